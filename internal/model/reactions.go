package model

import (
	"encoding/json"
	"slices"
	"sort"
)

// Reactions maps emoji to the users holding it, with a reverse index from
// user to emoji. A user holds at most one emoji. The zero value is usable.
type Reactions struct {
	byEmoji map[string][]string
	byUser  map[string]string
}

func (r *Reactions) init() {
	if r.byEmoji == nil {
		r.byEmoji = make(map[string][]string)
		r.byUser = make(map[string]string)
	}
}

// Set gives userID the emoji, dropping whatever they held before. It
// returns the previous emoji ("" if none).
func (r *Reactions) Set(emoji, userID string) string {
	r.init()
	prev := r.byUser[userID]
	if prev == emoji {
		return prev
	}
	if prev != "" {
		r.drop(prev, userID)
	}
	r.byEmoji[emoji] = append(r.byEmoji[emoji], userID)
	r.byUser[userID] = emoji
	return prev
}

// Remove takes emoji away from userID. It reports false if userID does not
// currently hold that emoji.
func (r *Reactions) Remove(emoji, userID string) bool {
	if r.byUser[userID] != emoji || emoji == "" {
		return false
	}
	r.drop(emoji, userID)
	return true
}

func (r *Reactions) drop(emoji, userID string) {
	users := slices.DeleteFunc(r.byEmoji[emoji], func(u string) bool { return u == userID })
	if len(users) == 0 {
		delete(r.byEmoji, emoji)
	} else {
		r.byEmoji[emoji] = users
	}
	delete(r.byUser, userID)
}

func (r Reactions) Has(emoji string) bool { return len(r.byEmoji[emoji]) > 0 }

// EmojiOf returns the emoji userID currently holds.
func (r Reactions) EmojiOf(userID string) string { return r.byUser[userID] }

// Users returns the holders of emoji in reaction order.
func (r Reactions) Users(emoji string) []string { return slices.Clone(r.byEmoji[emoji]) }

func (r Reactions) Len() int { return len(r.byUser) }

// Map returns a copy of emoji -> users.
func (r Reactions) Map() map[string][]string {
	out := make(map[string][]string, len(r.byEmoji))
	for e, users := range r.byEmoji {
		out[e] = slices.Clone(users)
	}
	return out
}

func (r Reactions) Clone() Reactions {
	var c Reactions
	for e, users := range r.byEmoji {
		for _, u := range users {
			c.Set(e, u)
		}
	}
	return c
}

func (r Reactions) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// UnmarshalJSON rebuilds the reverse index. Stored data that lists a user
// under several emoji keeps only the first occurrence in sorted emoji order.
func (r *Reactions) UnmarshalJSON(b []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Reactions{}
	emojis := make([]string, 0, len(raw))
	for e := range raw {
		emojis = append(emojis, e)
	}
	sort.Strings(emojis)
	r.init()
	for _, e := range emojis {
		for _, u := range raw[e] {
			if _, taken := r.byUser[u]; taken {
				continue
			}
			r.byEmoji[e] = append(r.byEmoji[e], u)
			r.byUser[u] = e
		}
	}
	return nil
}
