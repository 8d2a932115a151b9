package services

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"Companion/models"
)

var friendlyReplies = map[models.Mood][]string{
	models.MoodHappy: {
		"That's absolutely wonderful to hear! 😊 Your happiness is contagious! What's been bringing you the most joy lately? I'd love to celebrate with you!",
		"I'm so thrilled that you're feeling happy! 🌟 There's nothing better than hearing someone share their joy. What amazing things have been happening in your life?",
		"Your happiness just made my day brighter! ✨ I can feel your positive energy through your words. Tell me more about what's making you feel so good!",
	},
	models.MoodSad: {
		"I'm here with you, and I want you to know that your feelings are completely valid. 💙 It takes courage to share when you're feeling sad. What's been weighing on your heart?",
		"Thank you for trusting me with your feelings. I can sense you're going through a difficult time, and I want you to know you're not alone. Would you like to talk about what's making you feel this way?",
		"I hear you, and I'm sending you so much care and compassion right now. 🤗 Sadness is a natural part of being human. What would help you feel a little bit of comfort today?",
	},
	models.MoodAnxious: {
		"I can feel that you're feeling anxious, and I want you to know that's completely okay. 🌸 Let's take this one breath at a time. What's been making you feel worried lately?",
		"Anxiety can feel so overwhelming, but you're incredibly brave for reaching out. 💚 I'm right here with you. What thoughts have been racing through your mind?",
		"You're safe here with me. 🕊️ Anxiety is tough, but you're tougher. Let's work through this together. What's been triggering these anxious feelings for you?",
	},
	models.MoodAngry: {
		"I hear your anger, and it's completely valid to feel this way. 🔥 Anger often tells us something important about our boundaries. What's been frustrating you?",
		"Thank you for being honest about your anger. It takes strength to acknowledge these feelings. 💪 I'm here to listen without any judgment. What's been making you feel this way?",
		"Your anger is telling you something important, and I want to understand. 🤝 You're in a safe space here. What situation or person has been triggering these feelings?",
	},
	models.MoodStressed: {
		"I can feel how overwhelmed you must be feeling right now. 🌊 Stress can be so heavy to carry. I'm here to help you sort through this. What's been piling up for you lately?",
		"Stress is exhausting, and you're doing your best to handle everything. 🌱 Let's break things down together. What are the main things that have been stressing you out?",
		"You're carrying a lot right now, and that's really hard. 💜 I'm here to support you through this. What would help you feel even just a little bit lighter today?",
	},
	models.MoodNeutral: {
		"Hi there! I'm so glad you're here. 😊 I'm here to listen and support you in whatever way you need. How has your day been treating you?",
		"Welcome! It's wonderful to connect with you. 🌟 I'm here as your supportive companion. What's on your mind today?",
		"Hello! I'm really happy you decided to reach out. 💙 This is your safe space to share anything. What would you like to talk about?",
	},
}

type topic struct {
	words  []string
	opener string
	ask    string
}

// topics are matched in order; the first one mentioned is reflected back.
var topics = []topic{
	{[]string{"work", "job", "boss", "colleague", "office", "meeting"},
		"I hear that work has been on your mind.", "What's been happening at work that's affecting you? 💼"},
	{[]string{"family", "parent", "sibling", "child", "mom", "dad", "mother", "father"},
		"Family situations can bring up so many emotions.", "Tell me more about what's going on with your family. 👨‍👩‍👧‍👦"},
	{[]string{"friend", "relationship", "partner", "boyfriend", "girlfriend", "dating"},
		"Relationships can be both wonderful and challenging.", "What's been happening in your relationships? 💕"},
	{[]string{"school", "study", "exam", "test", "homework", "college", "university"},
		"School can be so demanding and stressful.", "What's been the most challenging part of your studies? 📚"},
	{[]string{"tired", "exhausted", "sleep", "insomnia"},
		"Being tired can make everything feel harder.", "How has your sleep been lately? 😴"},
	{[]string{"money", "financial", "bills", "debt", "expensive"},
		"Financial stress can be really overwhelming.", "What's been weighing on you financially? 💰"},
	{[]string{"health", "sick", "doctor", "hospital", "pain"},
		"Health concerns can be so scary and stressful.", "How are you taking care of yourself? 🏥"},
}

var moodFrames = map[models.Mood][2]string{
	models.MoodHappy:    {"I love hearing positive energy in your message!", "What's been the highlight of your day? ✨"},
	models.MoodSad:      {"I can sense you're going through a tough time right now.", "What's been weighing on your heart? 💙"},
	models.MoodAnxious:  {"I can feel some worry in your words.", "What thoughts have been racing through your mind? 🌸"},
	models.MoodAngry:    {"I hear some frustration in what you're sharing.", "What's been making you feel this way? 🔥"},
	models.MoodStressed: {"It sounds like you have a lot on your plate right now.", "What's been the most overwhelming part? 🌊"},
	models.MoodNeutral:  {"Thank you for sharing with me.", "What's been on your mind today? 💭"},
}

// RuleGenerator answers from canned supportive templates. It needs no
// network and never fails, so it backs every remote generator.
type RuleGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRuleGenerator uses rnd to pick templates; nil seeds from the clock.
func NewRuleGenerator(rnd *rand.Rand) *RuleGenerator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RuleGenerator{rnd: rnd}
}

func (g *RuleGenerator) Generate(_ context.Context, req ReplyRequest) (string, error) {
	mood := req.MoodKey()
	base := g.pick(friendlyReplies[mood])

	lower := strings.ToLower(req.UserText)
	if len(strings.Fields(req.UserText)) > 3 {
		for _, t := range topics {
			if containsAny(lower, t.words) {
				return fmt.Sprintf("%s %s %s", t.opener, base, t.ask), nil
			}
		}
	}
	frame := moodFrames[mood]
	return fmt.Sprintf("%s %s %s", frame[0], base, frame[1]), nil
}

func (g *RuleGenerator) pick(options []string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return options[g.rnd.Intn(len(options))]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
