// Package fallback generates local replies when the remote model is unreachable.
package fallback

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Category is the keyword-derived bucket used to select a reply set.
type Category string

const (
	Sad        Category = "sad"
	Stressed   Category = "stressed"
	Anxious    Category = "anxious"
	Motivation Category = "motivation"
	Happy      Category = "happy"
	Grateful   Category = "grateful"
	Lonely     Category = "lonely"
	Default    Category = "default"
)

type rule struct {
	category Category
	keywords []string
}

// rules are checked in order, the first match wins.
var rules = []rule{
	{Sad, []string{"sad", "down", "depressed"}},
	{Stressed, []string{"stress", "overwhelm", "pressure"}},
	{Anxious, []string{"anxious", "anxiety", "worried", "nervous"}},
	{Motivation, []string{"motivat", "inspire", "goal"}},
	{Happy, []string{"happy", "great", "amazing", "wonderful"}},
	{Grateful, []string{"grateful", "thankful", "blessed"}},
	{Lonely, []string{"lonely", "alone", "isolated"}},
}

var replies = map[Category][]string{
	Sad: {
		"I hear you, and I want you to know that it's okay to feel sad. 💙 Your feelings are valid. Remember, even the darkest nights end with a beautiful sunrise. What's weighing on your heart right now?",
		"I'm here with you. 🌟 Sadness is a natural part of being human, and it shows that you care deeply. Would you like to talk about what's making you feel this way?",
		"Thank you for sharing how you're feeling. 💜 It takes courage to acknowledge sadness. Remember, this feeling is temporary, and brighter days are ahead. How can I support you right now?",
	},
	Stressed: {
		"I can sense you're feeling overwhelmed. 🌊 Let's take a deep breath together. Remember: you don't have to carry everything at once. What's the biggest source of stress for you right now?",
		"Stress can feel heavy, but you're stronger than you know. 💪 Let's break things down into smaller, manageable pieces. What's one thing we can tackle together?",
		"I'm here to help you find calm in the chaos. 🧘‍♀️ Sometimes, the best thing we can do is pause and breathe. What would help you feel more at ease right now?",
	},
	Anxious: {
		"Anxiety can feel overwhelming, but you're not alone in this. 🤝 Let's ground ourselves in the present moment. Can you name 5 things you can see around you right now?",
		"I understand that anxiety can make everything feel uncertain. 🌈 But remember: you've overcome challenges before, and you can do it again. What's making you feel anxious?",
		"Your feelings are valid, and it's okay to feel anxious. 💚 Let's work through this together. What would help you feel more secure right now?",
	},
	Motivation: {
		"You've got this! 🚀 Every great achievement starts with the decision to try. What goal are you working towards? Let's break it down together!",
		"I believe in you! 💫 Remember, progress isn't always linear, but every step forward counts. What's one small action you can take today?",
		"Your potential is limitless! 🌟 The fact that you're here seeking motivation shows your commitment to growth. What dream are you chasing?",
	},
	Happy: {
		"That's wonderful! 🎉 Your joy is contagious! What's bringing you happiness today? I'd love to celebrate with you!",
		"I'm so glad to hear that! 😊 Happiness looks beautiful on you. What's making your day special?",
		"Amazing! 🌈 Keep riding that positive wave! What's putting that smile on your face?",
	},
	Grateful: {
		"Gratitude is such a powerful emotion! 🙏 It's beautiful that you're taking time to appreciate the good things. What are you grateful for today?",
		"That's wonderful! 💖 Practicing gratitude can transform our perspective. What blessings are you counting today?",
		"I love your positive mindset! ✨ Gratitude opens the door to more abundance. What's filling your heart with thankfulness?",
	},
	Lonely: {
		"I'm here with you, and you're not alone. 🤗 Loneliness can be difficult, but remember that connection is always possible. Would you like to talk about what you're feeling?",
		"Thank you for reaching out. 💙 Even in moments of loneliness, you have the strength within you. I'm here to listen and support you.",
		"You're never truly alone. 🌟 I'm here, and there are people who care about you. What would help you feel more connected right now?",
	},
	Default: {
		"I'm here to listen and support you. 💜 Tell me more about what's on your mind. Your thoughts and feelings matter.",
		"Thank you for sharing with me. 🌟 I'm here to help you navigate whatever you're going through. What would be most helpful for you right now?",
		"I appreciate you opening up. 💙 Remember, every challenge is an opportunity for growth. How can I best support you today?",
		"You're taking a positive step by reaching out. ✨ I'm here to walk alongside you. What's the most important thing you'd like to talk about?",
	},
}

// Classify returns the first category whose keywords appear in text.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.category
			}
		}
	}
	return Default
}

// Replies returns a copy of the candidate replies for a category.
// Unknown categories get the Default set.
func Replies(c Category) []string {
	set, ok := replies[c]
	if !ok {
		set = replies[Default]
	}
	return append([]string(nil), set...)
}

// Responder picks a reply uniformly at random from the classified category.
// It is safe for concurrent use.
type Responder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewResponder uses rng for selection; nil seeds one from the clock.
func NewResponder(rng *rand.Rand) *Responder {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Responder{rng: rng}
}

// Respond never fails and always returns a non-empty reply.
func (r *Responder) Respond(text string) string {
	set := replies[Classify(text)]

	r.mu.Lock()
	i := r.rng.IntN(len(set))
	r.mu.Unlock()

	return set[i]
}
