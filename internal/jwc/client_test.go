package jwc

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

// fakeExecutor resolves operations against canned responses keyed by the
// request path, recording every submitted form.
type fakeExecutor struct {
	t         *testing.T
	responses map[string][]byte
	forms     map[string][]map[string]string
}

func newFakeExecutor(t *testing.T) *fakeExecutor {
	return &fakeExecutor{
		t:         t,
		responses: make(map[string][]byte),
		forms:     make(map[string][]map[string]string),
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, principal string, op portal.Operation) ([]byte, error) {
	require.Equal(f.t, "2021001", principal)
	req, err := op.NewRequest(ctx)
	require.NoError(f.t, err)

	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		require.NoError(f.t, err)
		values, err := url.ParseQuery(string(raw))
		require.NoError(f.t, err)
		form := make(map[string]string)
		for k := range values {
			form[k] = values.Get(k)
		}
		f.forms[req.URL.Path] = append(f.forms[req.URL.Path], form)
	}

	body, ok := f.responses[req.URL.Path]
	if !ok {
		return nil, fmt.Errorf("%w: unexpected path %s", portal.ErrProtocol, req.URL.Path)
	}
	return body, nil
}

func newTestClient(f *fakeExecutor) *Client {
	return NewClient(f, "http://jwc.example.edu:8118/", "2021001")
}

func TestTokenScrape(t *testing.T) {
	f := newFakeExecutor(t)
	f.responses["/student/teachingEvaluation/evaluation/index"] = []byte(
		`<html><body><input type="hidden" id="tokenValue" value="TOK-9f3a"/></body></html>`)

	tok, err := newTestClient(f).Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "TOK-9f3a", tok)
}

func TestTokenMissingIsProtocolError(t *testing.T) {
	f := newFakeExecutor(t)
	f.responses["/student/teachingEvaluation/evaluation/index"] = []byte(`<html>closed</html>`)

	_, err := newTestClient(f).Token(context.Background())
	require.ErrorIs(t, err, portal.ErrProtocol)
}

const courseListJSON = `{
  "notFinishedNum": 2,
  "evaluationNum": 28,
  "result": "success",
  "data": [
    {
      "id": {"evaluatedPeople": "T001", "coureSequenceNumber": "01", "evaluationContentNumber": "C100"},
      "questionnaire": {"questionnaireNumber": "Q1", "questionnaireName": "理论课问卷"},
      "evaluatedPeople": "张老师",
      "isEvaluated": "否",
      "evaluationContent": "高等数学"
    },
    {
      "id": {"evaluatedPeople": "T002", "coureSequenceNumber": "02", "evaluationContentNumber": "C200"},
      "questionnaire": {"questionnaireNumber": "Q1", "questionnaireName": "理论课问卷"},
      "evaluatedPeople": "李老师",
      "isEvaluated": "是",
      "evaluationContent": "大学英语"
    }
  ]
}`

func TestCourseList(t *testing.T) {
	f := newFakeExecutor(t)
	f.responses["/student/teachingEvaluation/teachingEvaluation/search"] = []byte(courseListJSON)

	list, err := newTestClient(f).CourseList(context.Background())
	require.NoError(t, err)
	require.Equal(t, 28, list.EvaluationNum)
	require.Len(t, list.Data, 2)
	require.True(t, list.Data[0].Pending())
	require.False(t, list.Data[1].Pending())

	forms := f.forms["/student/teachingEvaluation/teachingEvaluation/search"]
	require.Len(t, forms, 1)
	require.Equal(t, "1", forms[0]["optType"])
	require.Equal(t, "50", forms[0]["pagesize"])
}

func TestOpenEvaluationForm(t *testing.T) {
	f := newFakeExecutor(t)
	f.responses["/student/teachingEvaluation/teachingEvaluation/evaluationPage"] = []byte(`ok`)

	course := Course{
		ID:                &CourseID{EvaluatedPeople: "T001", CourseSequenceNumber: "01", EvaluationContentNumber: "C100"},
		Questionnaire:     &Questionnaire{Number: "Q1", Name: "理论课问卷"},
		EvaluatedPeople:   "张老师",
		EvaluationContent: "高等数学",
	}
	err := newTestClient(f).OpenEvaluation(context.Background(), course, "TOK-9f3a", 28)
	require.NoError(t, err)

	forms := f.forms["/student/teachingEvaluation/teachingEvaluation/evaluationPage"]
	require.Len(t, forms, 1)
	form := forms[0]
	require.Equal(t, "28", form["count"])
	require.Equal(t, "TOK-9f3a", form["tokenValue"])
	require.Equal(t, "T001", form["evaluatedPeopleNumber"])
	require.Equal(t, "01", form["coureSequenceNumber"])
	require.Equal(t, "C100", form["evaluationContentNumber"])
	require.Equal(t, "Q1", form["questionnaireCode"])
}

func TestSubmitEvaluation(t *testing.T) {
	f := newFakeExecutor(t)
	f.responses["/student/teachingEvaluation/teachingEvaluation/assessment"] = []byte(`{"result":"success","msg":"提交成功"}`)

	course := Course{
		ID:            &CourseID{EvaluatedPeople: "T001", EvaluationContentNumber: "C100"},
		Questionnaire: &Questionnaire{Number: "Q1"},
	}
	req := BuildEvaluationRequest(course, "TOK-9f3a", 28, rand.New(rand.NewSource(1)))
	res, err := newTestClient(f).SubmitEvaluation(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.OK())

	forms := f.forms["/student/teachingEvaluation/teachingEvaluation/assessment"]
	require.Len(t, forms, 1)
	form := forms[0]
	require.Equal(t, "submit", form["optType"])
	require.Equal(t, "TOK-9f3a", form["tokenValue"])
	require.Equal(t, "Q1", form["questionnaireCode"])
	require.Equal(t, "C100", form["evaluationContent"])
	require.Equal(t, "T001", form["evaluatedPeopleNumber"])
	require.NotEmpty(t, form["zgpj"])
	// Every numbered rating item rides along in the same form.
	for i := 180; i <= 201; i++ {
		require.NotEmpty(t, form[fmt.Sprintf("0000000%d", i)], "item %d", i)
	}
}

func TestSubmitEvaluationRejected(t *testing.T) {
	f := newFakeExecutor(t)
	f.responses["/student/teachingEvaluation/teachingEvaluation/assessment"] = []byte(`{"result":"error","msg":"评教未开放"}`)

	res, err := newTestClient(f).SubmitEvaluation(context.Background(), EvaluationRequest{TokenValue: "x"})
	require.NoError(t, err)
	require.False(t, res.OK())
	require.Equal(t, "评教未开放", res.Msg)
}

func TestAcademicInfo(t *testing.T) {
	f := newFakeExecutor(t)
	f.responses["/main/academicInfo"] = []byte(
		`[{"courseNum": 42, "coursePas": 1, "gpa": 3.61, "zxjxjhh": "2025-2026-1-1", "courseNum_bxqyxd": 6}]`)

	info, err := newTestClient(f).AcademicInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, info.CompletedCourses)
	require.Equal(t, 1, info.FailedCourses)
	require.Equal(t, 6, info.PendingCourses)
	require.InDelta(t, 3.61, info.GPA, 1e-9)
	require.Equal(t, "2025-2026-1-1", info.CurrentTerm)
}

func TestBuildEvaluationRequestRatings(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	req := BuildEvaluationRequest(Course{}, "tok", 28, rng)

	require.Len(t, req.RatingItems, 22)
	for i := 180; i <= 199; i++ {
		v := req.RatingItems[fmt.Sprintf("0000000%d", i)]
		require.Contains(t, []string{"5_0.8", "5_1"}, v)
	}
	require.Contains(t, praiseComments, req.RatingItems["0000000200"])
	require.Contains(t, suggestionComments, req.RatingItems["0000000201"])
	require.Contains(t, overallComments, req.ZGPJ)
}
