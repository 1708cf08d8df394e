package api

import (
	"encoding/json"
	"time"
)

// QueryType selects the ordering of advanced search results.
type QueryType string

const (
	QueryLatest QueryType = "Latest"
	QueryTop    QueryType = "Top"
)

// Valid reports whether q is a query type the search endpoint accepts.
func (q QueryType) Valid() bool {
	return q == QueryLatest || q == QueryTop
}

// SearchParameters describes one advanced search request.
type SearchParameters struct {
	Query     string
	QueryType QueryType
	Cursor    string // empty starts from the newest results
}

// Post is a tweet as returned by the API, flattened for storage.
type Post struct {
	ID        string
	Text      string
	CreatedAt time.Time

	AuthorID       string
	AuthorUsername string
	AuthorName     string

	RetweetCount int
	LikeCount    int
	ReplyCount   int
	QuoteCount   int
	ViewCount    *int

	Language string
	Source   string

	// RawPayload is the record exactly as received. Collectors also use it to
	// carry tags such as the keyword that matched.
	RawPayload map[string]any
}

// User is an account profile as returned by the API. An empty ID marks a
// placeholder produced without contacting the API.
type User struct {
	ID              string
	Username        string
	DisplayName     string
	Description     string
	FollowersCount  int
	FollowingCount  int
	CreatedAt       time.Time
	Verified        bool
	ProfileImageURL string
	RawPayload      map[string]any
}

// envelope is the wrapper every endpoint responds with.
type envelope struct {
	Status string          `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// tweetList is the data payload of the search and timeline endpoints.
type tweetList struct {
	List []json.RawMessage `json:"list"`
}

type wireAuthor struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Name     string `json:"name"`
}

type wireTweet struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	CreatedAt    string     `json:"createdAt"`
	RetweetCount int        `json:"retweetCount"`
	ReplyCount   int        `json:"replyCount"`
	LikeCount    int        `json:"likeCount"`
	QuoteCount   int        `json:"quoteCount"`
	ViewCount    *int       `json:"viewCount"`
	Lang         string     `json:"lang"`
	Source       string     `json:"source"`
	Author       wireAuthor `json:"author"`
}

type wireUser struct {
	ID             string `json:"id"`
	UserName       string `json:"userName"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Followers      int    `json:"followers"`
	Following      int    `json:"following"`
	CreatedAt      string `json:"createdAt"`
	IsBlueVerified bool   `json:"isBlueVerified"`
	ProfilePicture string `json:"profilePicture"`
}
