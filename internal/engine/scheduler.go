package engine

import (
	"sort"

	"video-quiz-engine/internal/domain"
)

type questionState int

const (
	questionPending questionState = iota
	questionActive
	questionResolved
)

// Tolerances bound how far the sampled playback position may sit from a
// question's timestamp for it to trigger. Detection questions track a
// specific frame and get the tight bound.
type Tolerances struct {
	MultipleChoiceSeconds float64
	DetectionSeconds      float64
}

func DefaultTolerances() Tolerances {
	return Tolerances{MultipleChoiceSeconds: 1.5, DetectionSeconds: 0.3}
}

// backwardSeekSlack is how far before the active question's timestamp the
// position may fall before the question is treated as manually rewound past.
const backwardSeekSlack = 1.0

// Scheduler maps playback position samples to due questions. Each question
// moves pending -> active -> resolved, with resolved -> pending as the single
// sanctioned re-arm used by the retry path. Not safe for concurrent use; the
// engine serializes all calls.
type Scheduler struct {
	questions  []domain.Question
	byID       map[string]int
	states     map[string]questionState
	activeID   string
	lastRearm  string
	tolerances Tolerances
}

func NewScheduler(tolerances Tolerances) *Scheduler {
	s := &Scheduler{tolerances: tolerances}
	s.Load(nil)
	return s
}

// Load replaces the question list and resets all trigger state. Questions
// are ordered by timestamp, ties broken by id.
func (s *Scheduler) Load(questions []domain.Question) {
	ordered := make([]domain.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TimestampSeconds != ordered[j].TimestampSeconds {
			return ordered[i].TimestampSeconds < ordered[j].TimestampSeconds
		}
		return ordered[i].ID < ordered[j].ID
	})

	s.questions = ordered
	s.byID = make(map[string]int, len(ordered))
	s.states = make(map[string]questionState, len(ordered))
	for i, q := range ordered {
		s.byID[q.ID] = i
		s.states[q.ID] = questionPending
	}
	s.activeID = ""
	s.lastRearm = ""
}

// Questions returns the ordered question list.
func (s *Scheduler) Questions() []domain.Question {
	out := make([]domain.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// Sample activates at most one due question for the given position. It is a
// no-op while a question is already active. A re-armed question that was the
// most recently resolved one takes priority over discovering the next
// untried question, so a rewatch does not skip ahead.
func (s *Scheduler) Sample(position float64) (domain.Question, bool) {
	if s.activeID != "" {
		return domain.Question{}, false
	}

	if s.lastRearm != "" && s.states[s.lastRearm] == questionPending {
		q := s.questions[s.byID[s.lastRearm]]
		if withinTolerance(q, position, s.tolerances) {
			s.activate(q.ID)
			return q, true
		}
	}

	for _, q := range s.questions {
		if s.states[q.ID] != questionPending {
			continue
		}
		if withinTolerance(q, position, s.tolerances) {
			s.activate(q.ID)
			return q, true
		}
	}
	return domain.Question{}, false
}

// Active returns the currently active question, if any.
func (s *Scheduler) Active() (domain.Question, bool) {
	if s.activeID == "" {
		return domain.Question{}, false
	}
	return s.questions[s.byID[s.activeID]], true
}

// Resolve marks the active question resolved and clears the active slot.
func (s *Scheduler) Resolve(id string) bool {
	if s.activeID != id {
		return false
	}
	s.states[id] = questionResolved
	s.activeID = ""
	return true
}

// Rearm transitions a resolved question back to pending so it can trigger
// and be answered again. Only resolved questions can be re-armed.
func (s *Scheduler) Rearm(id string) bool {
	if s.states[id] != questionResolved {
		return false
	}
	s.states[id] = questionPending
	s.lastRearm = id
	return true
}

// RearmAll returns every question to pending, used on a full restart.
func (s *Scheduler) RearmAll() {
	for id := range s.states {
		s.states[id] = questionPending
	}
	s.activeID = ""
	s.lastRearm = ""
}

// GuardBackwardSeek clears the active question without resolving it when the
// position has moved more than a second before its timestamp (a manual
// rewind). Returns true when the active question was cleared.
func (s *Scheduler) GuardBackwardSeek(position float64) bool {
	if s.activeID == "" {
		return false
	}
	q := s.questions[s.byID[s.activeID]]
	if position >= q.TimestampSeconds-backwardSeekSlack {
		return false
	}
	s.states[s.activeID] = questionPending
	s.activeID = ""
	return true
}

// Resolved reports whether the question has been resolved.
func (s *Scheduler) Resolved(id string) bool {
	return s.states[id] == questionResolved
}

func (s *Scheduler) activate(id string) {
	s.states[id] = questionActive
	s.activeID = id
}

func withinTolerance(q domain.Question, position float64, t Tolerances) bool {
	tolerance := t.MultipleChoiceSeconds
	if q.Type == domain.QuestionObjectDetection {
		tolerance = t.DetectionSeconds
	}
	delta := q.TimestampSeconds - position
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance
}
