package message

import (
	"sort"

	"github.com/eren/reddilite/internal/models"
)

// Direction is a vote direction.
type Direction string

const (
	VoteUp   Direction = "up"
	VoteDown Direction = "down"
)

// ParseDirection validates the wire value of a vote type.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case VoteUp, VoteDown:
		return Direction(s), true
	}
	return "", false
}

// ToggleVote applies toggle semantics to a message's vote sets and returns
// the new sets. The voter is first removed from the opposite set, then
// added to the target set unless already present, in which case the vote
// is withdrawn. A voter can therefore appear in at most one set.
func ToggleVote(upvoters, downvoters []string, voterID string, dir Direction) (newUp, newDown []string) {
	target, opposite := upvoters, downvoters
	if dir == VoteDown {
		target, opposite = downvoters, upvoters
	}

	opposite = remove(opposite, voterID)
	if contains(target, voterID) {
		target = remove(target, voterID)
	} else {
		target = append(target, voterID)
	}

	if dir == VoteDown {
		return opposite, target
	}
	return target, opposite
}

// Score is derived from the vote sets, never stored, so it cannot drift.
func Score(msg *models.Message) int {
	return len(msg.UpvoterIDs) - len(msg.DownvoterIDs)
}

// SortMessages orders messages for listing. "top" sorts by derived score
// descending with createdAt descending as the tie-break; anything else is
// treated as "new" (createdAt descending, the store's natural order).
func SortMessages(msgs []models.Message, sortKey string) {
	if sortKey != "top" {
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		})
		return
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		si, sj := Score(&msgs[i]), Score(&msgs[j])
		if si != sj {
			return si > sj
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
