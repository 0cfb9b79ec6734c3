// Package model holds the payload shapes exchanged with the EventClub API.
package model

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// FlexibleTags accepts tags either as a JSON array or as a string holding a
// JSON array, which the user endpoints return interchangeably.
type FlexibleTags []string

func (t *FlexibleTags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = FlexibleTags{}
			return nil
		}
		var tags []string
		if err := json.Unmarshal([]byte(s), &tags); err != nil {
			*t = FlexibleTags{s}
			return nil
		}
		*t = tags
		return nil
	}

	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	*t = tags
	return nil
}

// FlexibleID accepts an identifier encoded as a JSON string or number.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("id: %q is neither string nor number", data)
	}
	*id = FlexibleID(data)
	return nil
}

type User struct {
	ID         string       `json:"id"`
	Account    string       `json:"account,omitempty"`
	Slug       string       `json:"slug,omitempty"`
	Name       string       `json:"name"`
	Avatar     *string      `json:"avatar"`
	UserType   string       `json:"user_type,omitempty"`
	Age        *int         `json:"age"`
	Phone      *string      `json:"phone"`
	Email      string       `json:"email"`
	Occupation string       `json:"occupation"`
	Company    string       `json:"company"`
	Biograph   string       `json:"biograph"`
	Tags       FlexibleTags `json:"tags"`
	WechatQR   *string      `json:"wechat_qr"`
	CreatedAt  string       `json:"created_at,omitempty"`
	UpdatedAt  string       `json:"updated_at,omitempty"`
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
	User    *User  `json:"user,omitempty"`
}

type LogoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Organizer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Activity struct {
	ID                  string       `json:"id"`
	Title               string       `json:"title"`
	CoverImage          string       `json:"cover_image,omitempty"`
	StartTime           string       `json:"start_time"`
	EndTime             string       `json:"end_time,omitempty"`
	Location            string       `json:"location"`
	MaxParticipants     int          `json:"max_participants"`
	CurrentParticipants int          `json:"current_participants"`
	Fee                 float64      `json:"fee"`
	Description         string       `json:"description"`
	Tags                FlexibleTags `json:"tags"`
	Organizer           *Organizer   `json:"organizer,omitempty"`
	Status              string       `json:"status"`
}

type GroupMember struct {
	ID           FlexibleID `json:"id"`
	Name         string     `json:"name"`
	Occupation   string     `json:"occupation"`
	Score        float64    `json:"score"`
	UserID       string     `json:"user_id"`
	EnrollmentID string     `json:"enrollmentId"`
	Biograph     string     `json:"biograph"`
}

type MatchGroup struct {
	GroupID   FlexibleID    `json:"groupId"`
	GroupName string        `json:"groupName"`
	Members   []GroupMember `json:"members"`
}

type MatchResults struct {
	Groups     []MatchGroup `json:"groups"`
	Weights    []float64    `json:"weights"`
	ActivityID string       `json:"activityId"`
}

type Enrollment struct {
	ID         FlexibleID `json:"id"`
	UserID     string     `json:"userId"`
	EventID    string     `json:"eventId"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Status     string     `json:"status"`
	EnrolledAt string     `json:"enrolledAt"`
}

type Enrollments struct {
	Enrollments []Enrollment `json:"enrollments"`
	Total       int          `json:"total"`
	Page        int          `json:"page"`
	PageSize    int          `json:"pageSize"`
}

type ClusterMember struct {
	ID             FlexibleID   `json:"id"`
	Slug           string       `json:"slug"`
	Name           string       `json:"name"`
	Nickname       string       `json:"nickname"`
	Avatar         string       `json:"avatar"`
	Role           string       `json:"role"`
	Company        string       `json:"company"`
	Location       string       `json:"location"`
	IsLocal        bool         `json:"isLocal"`
	CommonTags     FlexibleTags `json:"commonTags"`
	SuggestedTopic string       `json:"suggestedTopic"`
}

type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

type Cluster struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	MemberCount int          `json:"memberCount"`
	Color       string       `json:"color"`
	MatchScore  float64      `json:"matchScore"`
	Tags        FlexibleTags `json:"tags"`
}

type ClusterMembers struct {
	Members    []ClusterMember `json:"members"`
	Pagination Pagination      `json:"pagination"`
	Cluster    *Cluster        `json:"cluster,omitempty"`
}

// NfcMatchData pairs the matching rules with per-dimension scores. MatchTags
// mirrors Rules for older consumers.
type NfcMatchData struct {
	Rules     []string           `json:"rules"`
	Data      map[string]float64 `json:"data"`
	MatchTags []string           `json:"matchTags"`
}

// ActionResult is the acknowledgement returned by write endpoints.
type ActionResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type MessageRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type ContactExchangeRequest struct {
	UserID string `json:"userId"`
}

type QrMatchRequest struct {
	QrCode string `json:"qrCode"`
}
