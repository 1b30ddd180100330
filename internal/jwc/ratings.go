package jwc

import (
	"fmt"
	"math/rand"
)

// The questionnaire has numbered items 0000000180 through 0000000201. Items
// up to 199 are five-star ratings; 200 and 201 are free-text answers drawn
// from curated pools so submissions stay plausible and non-identical.
const (
	ratingItemFirst = 180
	ratingItemLast  = 201
	praiseItem      = 200
	suggestionItem  = 201
)

var overallComments = []string{
	"老师授课生动形象,课堂氛围活跃。",
	"教学方法新颖,能够激发学习兴趣。",
	"讲解耐心细致,知识点清晰易懂。",
	"对待学生公平公正,很有亲和力。",
	"课堂管理有序,效率高。",
	"能理论联系实际,深入浅出。",
	"作业布置合理,有助于巩固知识。",
	"教学经验丰富,讲解深入浅出。",
	"关注学生反馈,及时调整教学。",
	"教学资源丰富,便于学习。",
	"课堂互动性强,能充分调动积极性。",
	"教学重点突出,难点突破到位。",
	"性格开朗,课堂充满活力。",
	"批改作业认真,评语有指导性。",
	"教学目标明确,条理清晰。",
}

var praiseComments = []string{
	"常把晦涩理论生活化,知识瞬间亲近起来。",
	"总用类比解难点,复杂概念秒懂。",
	"引入行业前沿案例,打开视野新窗口。",
	"设问巧妙引深思,激发自主探寻答案。",
	"常分享学科冷知识,拓宽知识边界。",
	"用跨学科视角解题,思维更灵动。",
	"鼓励尝试多元解法,创新思维被激活。",
	"常分享科研趣事,点燃学术热情。",
	"用思维导图梳理知识,结构一目了然。",
	"常把学习方法倾囊相授,效率直线提升。",
	"用历史事件类比,知识记忆更深刻。",
	"常鼓励跨学科学习,综合素养渐涨。",
	"分享行业大咖故事,奋斗动力满满。",
	"总能挖掘知识背后的趣味,学习味十足。",
	"常组织知识竞赛,学习热情被点燃。",
}

var suggestionComments = []string{
	"无",
	"没有",
	"没有什么建议,老师很好",
	"继续保持这么好的教学风格",
	"希望老师继续分享更多精彩案例",
	"感谢老师的悉心指导",
}

// BuildEvaluationRequest fills the assessment form for one course with
// randomized top ratings and comments. rng is injected so tests stay
// deterministic.
func BuildEvaluationRequest(course Course, token string, evaluationNum int, rng *rand.Rand) EvaluationRequest {
	items := make(map[string]string, ratingItemLast-ratingItemFirst+1)
	for i := ratingItemFirst; i <= ratingItemLast; i++ {
		key := fmt.Sprintf("0000000%d", i)
		switch i {
		case praiseItem:
			items[key] = praiseComments[rng.Intn(len(praiseComments))]
		case suggestionItem:
			items[key] = suggestionComments[rng.Intn(len(suggestionComments))]
		default:
			weights := []string{"0.8", "1"}
			items[key] = "5_" + weights[rng.Intn(len(weights))]
		}
	}

	req := EvaluationRequest{
		TokenValue:  token,
		Count:       fmt.Sprint(evaluationNum),
		ZGPJ:        overallComments[rng.Intn(len(overallComments))],
		RatingItems: items,
	}
	if course.Questionnaire != nil {
		req.QuestionnaireCode = course.Questionnaire.Number
	}
	if course.ID != nil {
		req.EvaluationContent = course.ID.EvaluationContentNumber
		req.EvaluatedPeopleNumber = course.ID.EvaluatedPeople
	}
	return req
}
