package client

import (
	"sync"

	"github.com/tripwish/triproom/internal/types"
)

// VoteState is the reconciled projection for one want place. Count and
// IsVoted are server-authoritative; Loading marks a cast in flight and is
// used to disable repeat interaction, never to queue requests.
type VoteState struct {
	Count   int
	IsVoted bool
	Loading bool
	Err     string
}

// VoteReconciler merges optimistic local vote intents with the two
// independent broadcast kinds: room-wide count updates and personal-queue
// flag updates. The channels carry no cross-ordering guarantee, so each
// field updates the moment its own signal arrives; neither waits for the
// other. The count is never incremented or decremented locally.
type VoteReconciler struct {
	mu     sync.Mutex
	byWant map[int64]VoteState
}

func NewVoteReconciler() *VoteReconciler {
	return &VoteReconciler{
		byWant: make(map[int64]VoteState),
	}
}

// Seed installs the initial server snapshot for a want place without
// touching loading or error state.
func (v *VoteReconciler) Seed(wantId int64, count int, isVoted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.byWant[wantId]
	st.Count = count
	st.IsVoted = isVoted
	v.byWant[wantId] = st
}

// BeginVote transitions a want place from idle to voting. It sets only the
// loading flag; count and flag remain at their last known good values until
// a broadcast overwrites them. Returns false when a cast is already in
// flight.
func (v *VoteReconciler) BeginVote(wantId int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.byWant[wantId]
	if st.Loading {
		return false
	}
	st.Loading = true
	st.Err = ""
	v.byWant[wantId] = st
	return true
}

// ApplyCount applies a room broadcast. The incoming tally overwrites the
// local count unconditionally: concurrent votes resolve by
// last-broadcast-wins.
func (v *VoteReconciler) ApplyCount(msg types.VoteCountMsg) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.byWant[msg.WantId]
	st.Count = msg.VoteCnt
	st.Loading = false
	st.Err = ""
	v.byWant[msg.WantId] = st
}

// ApplyFlag applies a personal-queue message carrying this user's own vote
// flag.
func (v *VoteReconciler) ApplyFlag(msg types.VoteFlagMsg) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.byWant[msg.WantId]
	st.IsVoted = msg.IsVoted
	st.Loading = false
	st.Err = ""
	v.byWant[msg.WantId] = st
}

// Fail records a server rejection for one want place. Count and flag keep
// their last known good values; other entities are unaffected.
func (v *VoteReconciler) Fail(wantId int64, errMsg string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.byWant[wantId]
	st.Loading = false
	st.Err = errMsg
	v.byWant[wantId] = st
}

// State returns the reconciled state for a want place. Unknown ids yield
// the zero state.
func (v *VoteReconciler) State(wantId int64) VoteState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.byWant[wantId]
}

// Forget drops local state for a want place, e.g. when the wishlist item
// itself is deleted.
func (v *VoteReconciler) Forget(wantId int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.byWant, wantId)
}
