package fallback

import (
	"time"

	"eventclub/pkg/model"

	"github.com/google/uuid"
)

// DefaultEventID is the fixed event the match and NFC endpoints are scoped to
// until the backend exposes per-event routing.
var DefaultEventID = uuid.Nil.String()

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func demoUser() model.User {
	return model.User{
		ID:         "demo-user-001",
		Account:    "demo_user",
		Name:       "演示用户",
		Age:        intPtr(28),
		Phone:      strPtr("13800138000"),
		Email:      "demo@example.com",
		Occupation: "产品经理",
		Company:    "科技创新公司",
		UserType:   "user",
		Biograph:   "年级: 研究生\n职能部门: 产品部\n行业: 互联网科技\n优势: 具有丰富的产品设计经验，擅长用户体验优化和数据分析\n一件最自豪的事情: 主导设计的产品获得了年度最佳用户体验奖",
		Tags:       model.FlexibleTags{"产品设计", "用户体验", "数据分析"},
	}
}

func demoProfile(id string, now time.Time) model.User {
	ts := now.UTC().Format(time.RFC3339)
	return model.User{
		ID:         id,
		Account:    "demo_user",
		Name:       "李芸萱",
		UserType:   "user",
		Occupation: "地空地质学（材料及环境矿物）",
		Biograph:   "年级: 25博\n职能部门: 综合事务部\n行业: 绿色科技与碳中和\n优势: 创建石界环游项目 获得中国国际创新大赛北京市一等奖 并晋级国赛\n一件最自豪的事情: 参与创新创业比赛并取得较好成绩，大一自主举办初中暑期班创业",
		Tags:       model.FlexibleTags{},
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

func demoActivity(id string, now time.Time) model.Activity {
	start := now.UTC().Add(7 * 24 * time.Hour).Truncate(time.Hour)
	return model.Activity{
		ID:                  id,
		Title:               "创新创业交流会",
		StartTime:           start.Format(time.RFC3339),
		EndTime:             start.Add(3 * time.Hour).Format(time.RFC3339),
		Location:            "北京大学",
		MaxParticipants:     50,
		CurrentParticipants: 3,
		Description:         "基于兴趣与技能的破冰匹配活动",
		Tags:                model.FlexibleTags{"兴趣匹配", "创业讨论"},
		Organizer:           &model.Organizer{ID: "organizer-001", Name: "EventClub"},
		Status:              "published",
	}
}

func demoMatchResults(activityID string) model.MatchResults {
	return model.MatchResults{
		Groups: []model.MatchGroup{
			{
				GroupID:   "1",
				GroupName: "兴趣匹配",
				Members: []model.GroupMember{
					{ID: "1", Name: "张三", Occupation: "光华会计", Score: 0.95, UserID: "user1", EnrollmentID: "enroll1",
						Biograph: `{"职能部门":"光华会计","行业":"金融服务","优势":"数据分析"}`},
					{ID: "2", Name: "李四", Occupation: "软件工程师", Score: 0.88, UserID: "user2", EnrollmentID: "enroll2",
						Biograph: `{"职能部门":"软件工程师","行业":"科技公司","优势":"全栈开发"}`},
				},
			},
			{
				GroupID:   "2",
				GroupName: "创业讨论",
				Members: []model.GroupMember{
					{ID: "3", Name: "王五", Occupation: "产品经理", Score: 0.82, UserID: "user3", EnrollmentID: "enroll3",
						Biograph: `{"职能部门":"产品经理","行业":"互联网","优势":"用户体验"}`},
				},
			},
		},
		Weights:    []float64{0.85, 0.78},
		ActivityID: activityID,
	}
}

func demoEnrollments(eventID string, now time.Time) model.Enrollments {
	ts := now.UTC().Format(time.RFC3339)
	return model.Enrollments{
		Enrollments: []model.Enrollment{
			{ID: "1", UserID: "user1", EventID: eventID, Name: "张三", Email: "zhangsan@example.com", Status: "confirmed", EnrolledAt: ts},
			{ID: "2", UserID: "user2", EventID: eventID, Name: "李四", Email: "lisi@example.com", Status: "confirmed", EnrolledAt: ts},
		},
		Total:    2,
		Page:     1,
		PageSize: 20,
	}
}

func demoClusterMembers(clusterID string, page, pageSize int) model.ClusterMembers {
	return model.ClusterMembers{
		Members: []model.ClusterMember{
			{ID: "1", Slug: "zhangsan", Name: "张三", Nickname: "产品小张", Avatar: "/default-avatar.png", Role: "产品经理",
				Company: "北京大学", Location: "北京", IsLocal: true,
				CommonTags: model.FlexibleTags{"产品设计", "用户体验"}, SuggestedTopic: "产品创新讨论"},
			{ID: "2", Slug: "lisi", Name: "李四", Nickname: "技术小李", Avatar: "/default-avatar.png", Role: "软件工程师",
				Company: "北京大学", Location: "北京", IsLocal: true,
				CommonTags: model.FlexibleTags{"技术交流", "创业讨论"}, SuggestedTopic: "全栈开发经验分享"},
		},
		Pagination: model.Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      2,
			TotalPages: 1,
			HasMore:    false,
		},
		Cluster: &model.Cluster{
			ID:          clusterID,
			Name:        "兴趣匹配",
			Description: "基于共同兴趣和技能匹配的群组",
			MemberCount: 2,
			Color:       "#3B82F6",
			MatchScore:  0.92,
			Tags:        model.FlexibleTags{"产品设计", "技术交流", "用户体验"},
		},
	}
}

func demoNfcMatchData() model.NfcMatchData {
	rules := []string{"兴趣匹配", "年级匹配", "性别匹配"}
	return model.NfcMatchData{
		Rules: rules,
		Data: map[string]float64{
			"score1":      0.707399208107911,
			"score2":      0.945193676943582,
			"score3":      -0.235572281082087,
			"score4":      0,
			"score5":      0,
			"score6":      0,
			"score7":      0,
			"score8":      0,
			"score9":      0,
			"score10":     0,
			"total_score": 0.70821984672318,
		},
		MatchTags: append([]string(nil), rules...),
	}
}
