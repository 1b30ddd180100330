package jwc

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

// ztreeNode is the raw node shape embedded in the completion page's script.
type ztreeNode struct {
	ID       string `json:"id"`
	ParentID string `json:"pId"`
	Name     string `json:"name"`
	FlagID   string `json:"flagId"`
	FlagType string `json:"flagType"`
}

var (
	ztreeInitPattern = regexp.MustCompile(`(?s)zTree\.init\([^,]+,\s*[^,]+,\s*(\[.*?\])\s*\)`)
	planTitlePattern = regexp.MustCompile(`(?s)<h4[^>]*>(.*?)</h4>`)
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	gradePattern     = regexp.MustCompile(`(\d{4})级`)
	majorPattern     = regexp.MustCompile(`\d{4}级(.+?)本科`)
	codePattern      = regexp.MustCompile(`\[([^\]\[]+)\]`)
	creditsPattern   = regexp.MustCompile(`\[([0-9.]+)学分\]`)
	scorePattern     = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)`)
	trailingComma    = regexp.MustCompile(`,\s*([}\]])`)
)

// parsePlanCompletion extracts the zTree dataset embedded in the completion
// page and rebuilds it as a category/course tree. The page encodes pass
// state in icon CSS classes on each node name.
func parsePlanCompletion(page []byte) (*PlanCompletion, error) {
	html := string(page)

	info := &PlanCompletion{}
	for _, m := range planTitlePattern.FindAllStringSubmatch(html, -1) {
		title := strings.TrimSpace(htmlTagPattern.ReplaceAllString(m[1], ""))
		if strings.Contains(title, "培养方案") {
			info.PlanName = title
			break
		}
	}
	if m := gradePattern.FindStringSubmatch(info.PlanName); m != nil {
		info.Grade = m[1]
	}
	if m := majorPattern.FindStringSubmatch(info.PlanName); m != nil {
		info.Major = m[1]
	}

	m := ztreeInitPattern.FindStringSubmatch(html)
	if m == nil {
		return nil, fmt.Errorf("%w: no completion tree on page", portal.ErrProtocol)
	}
	// The embedded literal allows trailing commas; JSON does not.
	raw := trailingComma.ReplaceAllString(m[1], "$1")

	var nodes []ztreeNode
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, fmt.Errorf("%w: completion tree: %v", portal.ErrProtocol, err)
	}

	children := make(map[string][]ztreeNode)
	for _, n := range nodes {
		children[n.ParentID] = append(children[n.ParentID], n)
	}

	for _, root := range children["-1"] {
		info.Categories = append(info.Categories, buildCategory(root, children))
	}
	info.tally(info.Categories)
	return info, nil
}

func buildCategory(node ztreeNode, children map[string][]ztreeNode) PlanCategory {
	cat := PlanCategory{Name: cleanNodeName(node.Name)}
	for _, child := range children[node.ID] {
		switch {
		case child.FlagType == "001" || child.FlagType == "002":
			cat.Subcategories = append(cat.Subcategories, buildCategory(child, children))
		case child.FlagType == "kch":
			cat.Courses = append(cat.Courses, parseCourseNode(child))
		case len(children[child.ID]) > 0:
			// Untyped node with descendants behaves like a category.
			cat.Subcategories = append(cat.Subcategories, buildCategory(child, children))
		default:
			cat.Courses = append(cat.Courses, parseCourseNode(child))
		}
	}
	return cat
}

func parseCourseNode(node ztreeNode) PlanCourse {
	course := PlanCourse{Status: "未修读"}
	switch {
	case strings.Contains(node.Name, "fa-smile-o fa-1x green"):
		course.Passed = true
		course.Status = "已通过"
	case strings.Contains(node.Name, "fa-frown-o fa-1x red"):
		course.Status = "未通过"
	}

	text := cleanNodeName(node.Name)
	if m := codePattern.FindStringSubmatch(text); m != nil {
		course.Code = m[1]
		if idx := strings.Index(text, "]"); idx >= 0 {
			text = strings.TrimSpace(text[idx+1:])
		}
	}
	if m := creditsPattern.FindStringSubmatch(text); m != nil {
		course.Credits, _ = strconv.ParseFloat(m[1], 64)
		text = strings.TrimSpace(creditsPattern.ReplaceAllString(text, ""))
	}
	// A trailing parenthesized segment carries the score when present.
	if open := strings.LastIndex(text, "("); open >= 0 && strings.HasSuffix(text, ")") {
		inner := text[open+1 : len(text)-1]
		if m := scorePattern.FindStringSubmatch(inner); m != nil {
			course.Score = m[1]
		}
		text = strings.TrimSpace(text[:open])
	}
	course.Name = strings.Trim(text, "，,。. ")
	return course
}

func cleanNodeName(name string) string {
	s := htmlTagPattern.ReplaceAllString(name, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return strings.TrimSpace(s)
}

func (p *PlanCompletion) tally(cats []PlanCategory) {
	for _, cat := range cats {
		for _, c := range cat.Courses {
			p.TotalCourses++
			switch c.Status {
			case "已通过":
				p.PassedCourses++
			case "未通过":
				p.FailedCourses++
			default:
				p.UnreadCourses++
			}
		}
		p.tally(cat.Subcategories)
	}
}
