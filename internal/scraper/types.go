package scraper

import "time"

// Profile is the normalized projection of a scraped user account.
type Profile struct {
	UserID         string     `json:"user_id,omitempty"`
	Username       string     `json:"username"`
	Name           string     `json:"name,omitempty"`
	Biography      string     `json:"biography,omitempty"`
	Location       string     `json:"location,omitempty"`
	URL            string     `json:"url,omitempty"`
	Website        string     `json:"website,omitempty"`
	Avatar         string     `json:"avatar,omitempty"`
	FollowersCount int        `json:"followers_count"`
	FollowingCount int        `json:"following_count"`
	TweetsCount    int        `json:"tweets_count"`
	IsVerified     bool       `json:"is_verified"`
	IsPrivate      bool       `json:"is_private"`
	Joined         *time.Time `json:"joined,omitempty"`
}

// Tweet is the normalized projection of a scraped timeline entry.
type Tweet struct {
	TweetID      string    `json:"tweet_id"`
	Username     string    `json:"username"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
	Likes        int       `json:"likes"`
	Retweets     int       `json:"retweets"`
	Replies      int       `json:"replies"`
	Views        int       `json:"views"`
	IsRetweet    bool      `json:"is_retweet"`
	IsReply      bool      `json:"is_reply"`
	IsPin        bool      `json:"is_pin"`
	Hashtags     []string  `json:"hashtags,omitempty"`
	URLs         []string  `json:"urls,omitempty"`
	PermanentURL string    `json:"permanent_url,omitempty"`
}

// TagCount is one entry of the hashtag/mention frequency analysis.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	Operation string    `json:"operation"`
	Target    string    `json:"target"`
	Count     int       `json:"count"`
	ScrapedAt time.Time `json:"scraped_at"`
	Cached    bool      `json:"cached"`
}

// Result is the normalized output of one scrape operation. Exactly one of
// Users or Timelines is populated depending on the operation.
type Result struct {
	Users     []Profile  `json:"users,omitempty"`
	Timelines []Tweet    `json:"timelines,omitempty"`
	Hashtags  []TagCount `json:"hashtags,omitempty"`
	Mentions  []TagCount `json:"mentions,omitempty"`
	Metadata  Metadata   `json:"metadata"`
}

// Size reports the number of scraped items, recorded as result_size on the
// task.
func (r *Result) Size() int {
	return len(r.Users) + len(r.Timelines)
}
