package jwc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

// Executor runs one authenticated portal operation for a principal. The
// portal session manager satisfies this; tests substitute a fake.
type Executor interface {
	Execute(ctx context.Context, principal string, op portal.Operation) ([]byte, error)
}

const (
	evaluationIndexPath  = "/student/teachingEvaluation/evaluation/index"
	evaluationSearchPath = "/student/teachingEvaluation/teachingEvaluation/search?sf_request_type=ajax"
	evaluationPagePath   = "/student/teachingEvaluation/teachingEvaluation/evaluationPage"
	assessmentPath       = "/student/teachingEvaluation/teachingEvaluation/assessment?sf_request_type=ajax"
	academicInfoPath     = "/main/academicInfo?sf_request_type=ajax"
	planCompletionPath   = "/student/integratedQuery/planCompletion/index"

	defaultPageSize = 50
)

var tokenValuePattern = regexp.MustCompile(`id="tokenValue"[^>]*value="([^"]*)"`)

// Client speaks to the education portal on behalf of one principal. All
// calls go through the session manager, so expiry and retries are handled
// underneath it.
type Client struct {
	exec      Executor
	baseURL   string
	principal string
	pageSize  int
}

func NewClient(exec Executor, baseURL, principal string) *Client {
	return &Client{
		exec:      exec,
		baseURL:   strings.TrimRight(baseURL, "/"),
		principal: principal,
		pageSize:  defaultPageSize,
	}
}

// SetPageSize overrides the course-list page size.
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

func (c *Client) getOp(name, path string) portal.Operation {
	return portal.Operation{
		Name: name,
		NewRequest: func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		},
	}
}

func (c *Client) formOp(name, path string, form url.Values) portal.Operation {
	return portal.Operation{
		Name: name,
		NewRequest: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return req, nil
		},
	}
}

// Token scrapes the CSRF token from the evaluation index page. An empty
// token usually means the evaluation window is closed.
func (c *Client) Token(ctx context.Context) (string, error) {
	body, err := c.exec.Execute(ctx, c.principal, c.getOp("jwc.token", evaluationIndexPath))
	if err != nil {
		return "", err
	}
	m := tokenValuePattern.FindSubmatch(body)
	if len(m) < 2 || len(m[1]) == 0 {
		return "", fmt.Errorf("%w: no token on evaluation page", portal.ErrProtocol)
	}
	return string(m[1]), nil
}

// CourseList fetches the evaluation course list for the current term.
func (c *Client) CourseList(ctx context.Context) (*CourseList, error) {
	form := url.Values{"optType": {"1"}, "pagesize": {strconv.Itoa(c.pageSize)}}
	body, err := c.exec.Execute(ctx, c.principal, c.formOp("jwc.course_list", evaluationSearchPath, form))
	if err != nil {
		return nil, err
	}
	var list CourseList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: course list: %v", portal.ErrProtocol, err)
	}
	return &list, nil
}

// OpenEvaluation accesses the evaluation page for a course, which starts the
// server-side countdown required before submission.
func (c *Client) OpenEvaluation(ctx context.Context, course Course, token string, evaluationNum int) error {
	form := url.Values{
		"count":                    {fmt.Sprint(evaluationNum)},
		"evaluatedPeople":          {course.EvaluatedPeople},
		"evaluationContentContent": {""},
		"tokenValue":               {token},
	}
	if course.ID != nil {
		form.Set("evaluatedPeopleNumber", course.ID.EvaluatedPeople)
		form.Set("coureSequenceNumber", course.ID.CourseSequenceNumber)
		form.Set("evaluationContentNumber", course.ID.EvaluationContentNumber)
	}
	if course.Questionnaire != nil {
		form.Set("questionnaireCode", course.Questionnaire.Number)
		form.Set("questionnaireName", course.Questionnaire.Name)
	}
	_, err := c.exec.Execute(ctx, c.principal, c.formOp("jwc.open_evaluation", evaluationPagePath, form))
	return err
}

// SubmitEvaluation posts a completed evaluation form.
func (c *Client) SubmitEvaluation(ctx context.Context, req EvaluationRequest) (*SubmitResult, error) {
	form := url.Values{
		"optType":               {"submit"},
		"tokenValue":            {req.TokenValue},
		"questionnaireCode":     {req.QuestionnaireCode},
		"evaluationContent":     {req.EvaluationContent},
		"evaluatedPeopleNumber": {req.EvaluatedPeopleNumber},
		"count":                 {req.Count},
		"zgpj":                  {req.ZGPJ},
	}
	for k, v := range req.RatingItems {
		form.Set(k, v)
	}
	body, err := c.exec.Execute(ctx, c.principal, c.formOp("jwc.submit_evaluation", assessmentPath, form))
	if err != nil {
		return nil, err
	}
	var res SubmitResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: assessment response: %v", portal.ErrProtocol, err)
	}
	return &res, nil
}

// AcademicInfo fetches the grade summary. The upstream answers with a
// one-element JSON array.
func (c *Client) AcademicInfo(ctx context.Context) (*AcademicInfo, error) {
	form := url.Values{"flag": {""}}
	body, err := c.exec.Execute(ctx, c.principal, c.formOp("jwc.academic_info", academicInfoPath, form))
	if err != nil {
		return nil, err
	}
	var items []academicInfoItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: academic info: %v", portal.ErrProtocol, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty academic info", portal.ErrProtocol)
	}
	it := items[0]
	return &AcademicInfo{
		CompletedCourses: it.CourseNum,
		FailedCourses:    it.CoursePas,
		PendingCourses:   it.PendingThisTerm,
		GPA:              it.GPA,
		CurrentTerm:      it.CurrentTerm,
	}, nil
}

// PlanCompletion fetches and parses the training-plan completion page.
func (c *Client) PlanCompletion(ctx context.Context) (*PlanCompletion, error) {
	body, err := c.exec.Execute(ctx, c.principal, c.getOp("jwc.plan_completion", planCompletionPath))
	if err != nil {
		return nil, err
	}
	return parsePlanCompletion(body)
}
