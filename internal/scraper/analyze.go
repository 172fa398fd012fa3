package scraper

import (
	"regexp"
	"sort"
	"strings"
)

var (
	hashtagPattern = regexp.MustCompile(`#(\w+)`)
	mentionPattern = regexp.MustCompile(`@(\w+)`)
)

// AnalyzeTimeline computes hashtag and mention frequencies across a
// timeline, most frequent first. Hashtags reported by the driver are
// preferred; the tweet text is scanned for anything the driver missed and
// for mentions, which the driver does not surface.
func AnalyzeTimeline(tweets []Tweet) (hashtags, mentions []TagCount) {
	hashtagCounts := map[string]int{}
	mentionCounts := map[string]int{}

	for _, t := range tweets {
		seen := map[string]bool{}
		for _, tag := range t.Hashtags {
			tag = strings.ToLower(tag)
			if !seen["#"+tag] {
				seen["#"+tag] = true
				hashtagCounts[tag]++
			}
		}
		for _, m := range hashtagPattern.FindAllStringSubmatch(t.Text, -1) {
			tag := strings.ToLower(m[1])
			if !seen["#"+tag] {
				seen["#"+tag] = true
				hashtagCounts[tag]++
			}
		}
		for _, m := range mentionPattern.FindAllStringSubmatch(t.Text, -1) {
			mention := strings.ToLower(m[1])
			if !seen["@"+mention] {
				seen["@"+mention] = true
				mentionCounts[mention]++
			}
		}
	}

	return sortCounts(hashtagCounts), sortCounts(mentionCounts)
}

func sortCounts(counts map[string]int) []TagCount {
	out := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}
