package domain

import "sort"

// LeaderboardEntry is one participant's rank line.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	Score        int    `json:"score"`
	CorrectCount int    `json:"correctCount"`
}

// Leaderboard is the ordered standing of a session's participants.
type Leaderboard struct {
	Code    string             `json:"code"`
	Version int64              `json:"version"`
	Entries []LeaderboardEntry `json:"entries"`
}

// Leaderboard ranks participants by score desc, then earliest join, then name.
// Equal scores share a rank.
func (s Session) Leaderboard() Leaderboard {
	participants := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		a, b := participants[i], participants[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.ID < b.ID
	})

	entries := make([]LeaderboardEntry, 0, len(participants))
	for i, p := range participants {
		rank := i + 1
		if i > 0 && p.Score == participants[i-1].Score {
			rank = entries[i-1].Rank
		}
		entries = append(entries, LeaderboardEntry{
			Rank:         rank,
			UserID:       p.ID,
			DisplayName:  p.DisplayName,
			Score:        p.Score,
			CorrectCount: p.CorrectCount,
		})
	}
	return Leaderboard{Code: s.Code, Version: s.Version, Entries: entries}
}
