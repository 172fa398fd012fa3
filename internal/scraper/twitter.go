package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	twitterscraper "github.com/imperatrona/twitter-scraper"
	"github.com/sirupsen/logrus"

	"github.com/scrapeworks/osint-worker/api/types"
)

const loginRetries = 2

// TwitterDriver drives the upstream through the twitter-scraper library.
// Each call builds a fresh scraper from the supplied session blob, so the
// driver itself carries no cross-job state.
type TwitterDriver struct{}

func NewTwitterDriver() *TwitterDriver {
	return &TwitterDriver{}
}

// Login authenticates with raw credentials and captures the resulting
// cookie jar as the session blob. Transient login errors are retried with
// exponential backoff; rejected credentials are not.
func (d *TwitterDriver) Login(ctx context.Context, username, secret string) (json.RawMessage, error) {
	s := twitterscraper.New()

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := s.Login(username, secret); err != nil {
			if classified := classify(err); classified == ErrAuthenticationFailure {
				return backoff.Permanent(err)
			}
			logrus.WithError(err).Warnf("Login attempt failed for %s, retrying", username)
			return err
		}
		return nil
	}

	strategy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), loginRetries)
	if err := backoff.Retry(op, strategy); err != nil {
		return nil, fmt.Errorf("%w: login failed for %s: %v", ErrAuthenticationFailure, username, err)
	}

	blob, err := json.Marshal(s.GetCookies())
	if err != nil {
		return nil, fmt.Errorf("error marshaling cookies: %w", err)
	}
	logrus.Debugf("Login successful for %s", username)
	return blob, nil
}

// Scrape restores the session and executes one operation.
func (d *TwitterDriver) Scrape(ctx context.Context, sessionBlob json.RawMessage, op types.OperationType, p types.Parameters) (*Result, error) {
	s, err := d.restore(sessionBlob)
	if err != nil {
		return nil, err
	}

	var result *Result
	switch op {
	case types.OperationSearchUser:
		result, err = d.searchUsers(ctx, s, p.Query, p.Limit)
	case types.OperationFollowing:
		result, err = d.following(s, p.Username, p.Limit)
	case types.OperationFollowers:
		result, err = d.followers(s, p.Username, p.Limit)
	case types.OperationTimeline:
		result, err = d.timeline(ctx, s, p.Username, p.Count, p.IncludeAnalysis)
	default:
		return nil, fmt.Errorf("unknown operation type: %s", op)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
		}
		return nil, classifyWrap(err)
	}

	result.Metadata.Operation = string(op)
	result.Metadata.ScrapedAt = time.Now().UTC()
	return result, nil
}

func (d *TwitterDriver) restore(sessionBlob json.RawMessage) (*twitterscraper.Scraper, error) {
	var cookies []*http.Cookie
	if err := json.Unmarshal(sessionBlob, &cookies); err != nil {
		return nil, fmt.Errorf("%w: unreadable session blob", ErrAuthenticationFailure)
	}
	s := twitterscraper.New()
	s.SetCookies(cookies)
	if !s.IsLoggedIn() {
		return nil, fmt.Errorf("%w: session rejected by upstream", ErrAuthenticationFailure)
	}
	return s, nil
}

func (d *TwitterDriver) searchUsers(ctx context.Context, s *twitterscraper.Scraper, query string, limit int) (*Result, error) {
	var users []Profile
	for profile := range s.SearchProfiles(ctx, query, limit) {
		if profile.Error != nil {
			return nil, profile.Error
		}
		users = append(users, convertProfile(&profile.Profile))
		if len(users) >= limit {
			break
		}
	}
	return &Result{
		Users:    users,
		Metadata: Metadata{Target: query, Count: len(users)},
	}, nil
}

func (d *TwitterDriver) following(s *twitterscraper.Scraper, username string, limit int) (*Result, error) {
	profiles, _, err := s.FetchFollowing(username, limit, "")
	if err != nil {
		return nil, err
	}
	return &Result{
		Users:    convertProfiles(profiles, limit),
		Metadata: Metadata{Target: username, Count: min(len(profiles), limit)},
	}, nil
}

func (d *TwitterDriver) followers(s *twitterscraper.Scraper, username string, limit int) (*Result, error) {
	profiles, _, err := s.FetchFollowers(username, limit, "")
	if err != nil {
		return nil, err
	}
	return &Result{
		Users:    convertProfiles(profiles, limit),
		Metadata: Metadata{Target: username, Count: min(len(profiles), limit)},
	}, nil
}

func (d *TwitterDriver) timeline(ctx context.Context, s *twitterscraper.Scraper, username string, count int, includeAnalysis bool) (*Result, error) {
	var tweets []Tweet
	for tweet := range s.GetTweets(ctx, username, count) {
		if tweet.Error != nil {
			return nil, tweet.Error
		}
		tweets = append(tweets, convertTweet(&tweet.Tweet))
		if len(tweets) >= count {
			break
		}
	}

	result := &Result{
		Timelines: tweets,
		Metadata:  Metadata{Target: username, Count: len(tweets)},
	}
	if includeAnalysis {
		result.Hashtags, result.Mentions = AnalyzeTimeline(tweets)
	}
	return result, nil
}

func convertProfiles(profiles []*twitterscraper.Profile, limit int) []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		if len(out) >= limit {
			break
		}
		out = append(out, convertProfile(p))
	}
	return out
}

func convertProfile(p *twitterscraper.Profile) Profile {
	return Profile{
		UserID:         p.UserID,
		Username:       p.Username,
		Name:           p.Name,
		Biography:      p.Biography,
		Location:       p.Location,
		URL:            p.URL,
		Website:        p.Website,
		Avatar:         p.Avatar,
		FollowersCount: p.FollowersCount,
		FollowingCount: p.FollowingCount,
		TweetsCount:    p.TweetsCount,
		IsVerified:     p.IsVerified,
		IsPrivate:      p.IsPrivate,
		Joined:         p.Joined,
	}
}

func convertTweet(t *twitterscraper.Tweet) Tweet {
	return Tweet{
		TweetID:      t.ID,
		Username:     t.Username,
		Text:         t.Text,
		CreatedAt:    time.Unix(t.Timestamp, 0).UTC(),
		Likes:        t.Likes,
		Retweets:     t.Retweets,
		Replies:      t.Replies,
		Views:        t.Views,
		IsRetweet:    t.IsRetweet,
		IsReply:      t.IsReply,
		IsPin:        t.IsPin,
		Hashtags:     t.Hashtags,
		URLs:         t.URLs,
		PermanentURL: t.PermanentURL,
	}
}
