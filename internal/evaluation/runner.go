package evaluation

import (
	"context"
	"math/rand"
	"time"

	"github.com/LoveACE-Team/LoveACE/internal/jwc"
)

// clientRunner drives a real education-portal client. Each task gets its
// own runner, so the rand source needs no locking.
type clientRunner struct {
	client *jwc.Client
	rng    *rand.Rand
}

// NewRunner wraps an education-portal client as a task Runner.
func NewRunner(client *jwc.Client) Runner {
	return &clientRunner{
		client: client,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *clientRunner) Discover(ctx context.Context) (string, *jwc.CourseList, error) {
	token, err := r.client.Token(ctx)
	if err != nil {
		return "", nil, err
	}
	list, err := r.client.CourseList(ctx)
	if err != nil {
		return "", nil, err
	}
	return token, list, nil
}

func (r *clientRunner) Open(ctx context.Context, course jwc.Course, token string, evaluationNum int) error {
	return r.client.OpenEvaluation(ctx, course, token, evaluationNum)
}

func (r *clientRunner) Submit(ctx context.Context, course jwc.Course, token string, evaluationNum int) (*jwc.SubmitResult, error) {
	req := jwc.BuildEvaluationRequest(course, token, evaluationNum, r.rng)
	return r.client.SubmitEvaluation(ctx, req)
}
