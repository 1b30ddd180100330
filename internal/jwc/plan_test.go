package jwc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

const planCompletionPage = `<html><body>
<h4>2022级计算机科学与技术本科培养方案</h4>
<div id="treeDemo"></div>
<script>
var setting = {};
var zNodes = null;
$.fn.zTree.init($("#treeDemo"), setting, [
  {"id": "1", "pId": "-1", "name": "通识教育课程(完成 12.0/15.0)", "flagId": "cat1", "flagType": "001"},
  {"id": "2", "pId": "1", "name": "必修课(完成 8.0/8.0)", "flagId": "cat2", "flagType": "002"},
  {"id": "3", "pId": "2", "name": "<i class='fa fa-smile-o fa-1x green'></i>&nbsp;[PDA2121005]形势与政策[0.3学分](85.0)", "flagId": "PDA2121005", "flagType": "kch"},
  {"id": "4", "pId": "2", "name": "<i class='fa fa-frown-o fa-1x red'></i>&nbsp;[MTH1001]高等数学[4.0学分](55.0)", "flagId": "MTH1001", "flagType": "kch"},
  {"id": "5", "pId": "2", "name": "<i class='fa fa-meh-o fa-1x light-grey'></i>&nbsp;[ENG2002]大学英语[2.0学分]", "flagId": "ENG2002", "flagType": "kch"},
]);
</script>
</body></html>`

func TestParsePlanCompletion(t *testing.T) {
	info, err := parsePlanCompletion([]byte(planCompletionPage))
	require.NoError(t, err)

	require.Equal(t, "2022级计算机科学与技术本科培养方案", info.PlanName)
	require.Equal(t, "2022", info.Grade)
	require.Equal(t, "计算机科学与技术", info.Major)

	require.Len(t, info.Categories, 1)
	root := info.Categories[0]
	require.Contains(t, root.Name, "通识教育课程")
	require.Len(t, root.Subcategories, 1)

	courses := root.Subcategories[0].Courses
	require.Len(t, courses, 3)

	require.Equal(t, "PDA2121005", courses[0].Code)
	require.Equal(t, "形势与政策", courses[0].Name)
	require.True(t, courses[0].Passed)
	require.Equal(t, "已通过", courses[0].Status)
	require.InDelta(t, 0.3, courses[0].Credits, 1e-9)
	require.Equal(t, "85.0", courses[0].Score)

	require.False(t, courses[1].Passed)
	require.Equal(t, "未通过", courses[1].Status)
	require.Equal(t, "55.0", courses[1].Score)

	require.Equal(t, "未修读", courses[2].Status)
	require.Empty(t, courses[2].Score)

	require.Equal(t, 3, info.TotalCourses)
	require.Equal(t, 1, info.PassedCourses)
	require.Equal(t, 1, info.FailedCourses)
	require.Equal(t, 1, info.UnreadCourses)
}

func TestParsePlanCompletionMissingTree(t *testing.T) {
	_, err := parsePlanCompletion([]byte(`<html><h4>维护中</h4></html>`))
	require.ErrorIs(t, err, portal.ErrProtocol)
}
