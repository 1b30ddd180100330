package jwc

// CourseID carries the identifiers the evaluation endpoints key on.
type CourseID struct {
	EvaluatedPeople         string `json:"evaluatedPeople"`
	CourseSequenceNumber    string `json:"coureSequenceNumber"`
	EvaluationContentNumber string `json:"evaluationContentNumber"`
}

// Questionnaire identifies the evaluation form attached to a course.
type Questionnaire struct {
	Number string `json:"questionnaireNumber"`
	Name   string `json:"questionnaireName"`
}

// Course is one row of the evaluation course list. IsEvaluated is the
// upstream's literal flag value; see Pending.
type Course struct {
	ID                *CourseID      `json:"id"`
	Questionnaire     *Questionnaire `json:"questionnaire"`
	EvaluatedPeople   string         `json:"evaluatedPeople"`
	IsEvaluated       string         `json:"isEvaluated"`
	EvaluationContent string         `json:"evaluationContent"`
}

// Pending reports whether the course still needs an evaluation. The portal
// answers with a localized yes/no string; anything but the literal yes means
// pending.
func (c Course) Pending() bool {
	return c.IsEvaluated != "是"
}

// CourseList is the search endpoint's response envelope.
type CourseList struct {
	NotFinishedNum int      `json:"notFinishedNum"`
	EvaluationNum  int      `json:"evaluationNum"`
	Data           []Course `json:"data"`
	Msg            string   `json:"msg"`
	Result         string   `json:"result"`
}

// SubmitResult is the assessment endpoint's response. Result is "success" on
// acceptance; anything else carries an operator-facing Msg.
type SubmitResult struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
}

func (r SubmitResult) OK() bool { return r.Result == "success" }

// EvaluationRequest is the assessment form. RatingItems maps the per-question
// field names directly onto form keys.
type EvaluationRequest struct {
	TokenValue            string
	QuestionnaireCode     string
	EvaluationContent     string
	EvaluatedPeopleNumber string
	Count                 string
	ZGPJ                  string
	RatingItems           map[string]string
}

// AcademicInfo is the grade summary from the portal's dashboard endpoint.
type AcademicInfo struct {
	CompletedCourses int     `json:"completedCourses"`
	FailedCourses    int     `json:"failedCourses"`
	PendingCourses   int     `json:"pendingCourses"`
	GPA              float64 `json:"gpa"`
	CurrentTerm      string  `json:"currentTerm"`
}

// academicInfoItem is the upstream array element shape.
type academicInfoItem struct {
	CourseNum       int     `json:"courseNum"`
	CoursePas       int     `json:"coursePas"`
	GPA             float64 `json:"gpa"`
	CurrentTerm     string  `json:"zxjxjhh"`
	PendingThisTerm int     `json:"courseNum_bxqyxd"`
}

// PlanCourse is one leaf of the training-plan completion tree.
type PlanCourse struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Credits float64 `json:"credits,omitempty"`
	Score   string  `json:"score,omitempty"`
	Passed  bool    `json:"passed"`
	Status  string  `json:"status"`
}

// PlanCategory is a node of the completion tree; categories nest.
type PlanCategory struct {
	Name          string         `json:"name"`
	Subcategories []PlanCategory `json:"subcategories,omitempty"`
	Courses       []PlanCourse   `json:"courses,omitempty"`
}

// PlanCompletion is the parsed training-plan completion report.
type PlanCompletion struct {
	PlanName      string         `json:"planName"`
	Major         string         `json:"major"`
	Grade         string         `json:"grade"`
	Categories    []PlanCategory `json:"categories"`
	TotalCourses  int            `json:"totalCourses"`
	PassedCourses int            `json:"passedCourses"`
	FailedCourses int            `json:"failedCourses"`
	UnreadCourses int            `json:"unreadCourses"`
}
