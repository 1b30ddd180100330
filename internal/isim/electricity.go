package isim

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	listItemPattern = regexp.MustCompile(`(?s)<li[^>]*class="[^"]*item-content[^"]*"[^>]*>(.*?)</li>`)
	itemDivPattern  = regexp.MustCompile(`(?s)<div[^>]*class="[^"]*item-(title|after|subtitle)[^"]*"[^>]*>(.*?)</div>`)
	tagPattern      = regexp.MustCompile(`<[^>]*>`)
	numberPattern   = regexp.MustCompile(`[\d.]+`)
	usagePattern    = regexp.MustCompile(`([\d.]+)度`)
	meterPattern    = regexp.MustCompile(`电表:\s*(.+)`)
	recordSectionRe = regexp.MustCompile(`(?s)id="divRecord"(.*)$`)
)

// parseElectricityPage extracts the balance figures and the usage records
// from the billing page. Balance rows live above the record section; rows
// with a subtitle are metered usage entries.
func parseElectricityPage(page []byte) (*Electricity, error) {
	html := string(page)

	recordSection := ""
	balanceSection := html
	if m := recordSectionRe.FindStringSubmatchIndex(html); m != nil {
		balanceSection = html[:m[2]]
		recordSection = html[m[2]:]
	}

	info := &Electricity{}
	for _, li := range listItemPattern.FindAllStringSubmatch(balanceSection, -1) {
		fields := itemFields(li[1])
		title, value := fields["title"], fields["after"]
		if title == "" || value == "" {
			continue
		}
		num := numberPattern.FindString(value)
		if num == "" {
			continue
		}
		amount, err := strconv.ParseFloat(num, 64)
		if err != nil {
			continue
		}
		switch {
		case strings.Contains(title, "剩余购电"):
			info.Balance.RemainingPurchased = amount
		case strings.Contains(title, "剩余补助"):
			info.Balance.RemainingSubsidy = amount
		}
	}

	for _, li := range listItemPattern.FindAllStringSubmatch(recordSection, -1) {
		fields := itemFields(li[1])
		if fields["title"] == "" || fields["after"] == "" || fields["subtitle"] == "" {
			continue
		}
		um := usagePattern.FindStringSubmatch(fields["after"])
		if um == nil {
			continue
		}
		amount, err := strconv.ParseFloat(um[1], 64)
		if err != nil {
			continue
		}
		meter := fields["subtitle"]
		if mm := meterPattern.FindStringSubmatch(meter); mm != nil {
			meter = strings.TrimSpace(mm[1])
		}
		info.UsageRecords = append(info.UsageRecords, UsageRecord{
			RecordTime:  fields["title"],
			UsageAmount: amount,
			MeterName:   meter,
		})
	}
	return info, nil
}

func itemFields(block string) map[string]string {
	fields := make(map[string]string, 3)
	for _, m := range itemDivPattern.FindAllStringSubmatch(block, -1) {
		text := strings.TrimSpace(tagPattern.ReplaceAllString(m[2], ""))
		fields[m[1]] = text
	}
	return fields
}
