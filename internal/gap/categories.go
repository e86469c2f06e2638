package gap

import (
	"strings"
	"unicode/utf8"

	"github.com/kamusis/skillmatch/internal/textutil"
)

// DefaultCategory is proposed when no category keyword appears in a query.
const DefaultCategory = "research-strategy"

type category struct {
	id        string
	keywords  []string
	suffix    string
	focus     string
	topics    []string
	resources []string
	metrics   []string
}

// categories is ordered; earlier entries win ties.
var categories = []category{
	{
		id:       "orchestration-meta",
		keywords: []string{"coordinate", "orchestrate", "manage", "automate", "workflow", "pipeline", "multi-step", "agent", "delegate", "meta"},
	},
	{
		id:        "visual-design-ui",
		keywords:  []string{"design", "ui", "ux", "interface", "visual", "layout", "color", "typography", "brand", "aesthetic", "css", "style", "theme"},
		suffix:    "Designer",
		focus:     "specialized in visual design and user interface creation",
		topics:    []string{"Design patterns and UI frameworks", "Color theory and accessibility standards (WCAG)", "Typography best practices", "Responsive design techniques"},
		resources: []string{"Material Design Guidelines", "Apple Human Interface Guidelines", "A11y Project accessibility resources"},
		metrics:   []string{"Design consistency score across components", "Accessibility compliance (WCAG 2.1 AA)", "Load time and performance metrics"},
	},
	{
		id:       "graphics-3d-simulation",
		keywords: []string{"3d", "render", "shader", "graphics", "simulation", "physics", "animation", "vr", "ar", "webgl", "opengl", "metal", "vulkan"},
	},
	{
		id:        "audio-sound-design",
		keywords:  []string{"audio", "sound", "music", "voice", "speech", "dsp", "wav", "synthesizer", "spatial audio", "podcast", "recording"},
		suffix:    "Audio Engineer",
		focus:     "specialized in audio processing and sound design",
		topics:    []string{"Digital signal processing fundamentals", "Audio APIs (Web Audio, CoreAudio)", "Codec and format considerations", "Spatial audio and 3D sound"},
		resources: []string{"Web Audio API specification", "Audio programming books (DAFX, etc.)", "Sound design communities (KVR, etc.)"},
		metrics:   []string{"Signal-to-noise ratio", "Latency measurements", "Format compatibility coverage"},
	},
	{
		id:        "computer-vision-image-ai",
		keywords:  []string{"image", "photo", "vision", "detect", "recognize", "segment", "ocr", "face", "object detection", "classification", "clip"},
		suffix:    "Vision Expert",
		focus:     "expert in image analysis and computer vision",
		topics:    []string{"Pre-trained models (CLIP, YOLO, SAM)", "Image processing libraries (OpenCV, Pillow)", "Evaluation metrics (mAP, IoU, SSIM)", "Dataset requirements and annotation"},
		resources: []string{"Papers With Code - Computer Vision", "Hugging Face Model Hub", "OpenCV documentation"},
		metrics:   []string{"Precision, recall, and F1 score", "Processing speed (images/second)", "Memory usage and model size"},
	},
	{
		id:       "autonomous-systems-robotics",
		keywords: []string{"robot", "drone", "autonomous", "navigation", "slam", "sensor", "control", "pid", "path planning", "iot", "embedded"},
		suffix:   "Systems Expert",
		topics:   []string{"Control theory and PID tuning", "SLAM algorithms", "Sensor fusion techniques", "Safety and regulatory requirements"},
	},
	{
		id:       "conversational-ai-bots",
		keywords: []string{"bot", "chatbot", "discord", "telegram", "slack", "conversation", "dialogue", "assistant", "moderation", "command"},
	},
	{
		id:       DefaultCategory,
		keywords: []string{"research", "analyze", "strategy", "competitive", "market", "landscape", "trend", "report", "data analysis", "insight"},
		suffix:   "Analyst",
		focus:    "expert in research and strategic analysis",
	},
	{
		id:        "coaching-personal-development",
		keywords:  []string{"coach", "mentor", "career", "personal", "growth", "advice", "psychology", "wellness", "finance", "resume", "cv", "job"},
		suffix:    "Coach",
		focus:     "focused on guidance and personal growth",
		topics:    []string{"Evidence-based coaching methodologies", "Psychological frameworks", "Privacy and ethical considerations", "Outcome measurement and tracking"},
		resources: []string{"Evidence-based coaching research (ICF)", "Positive psychology literature", "Ethical guidelines for AI coaching"},
		metrics:   []string{"User satisfaction ratings", "Goal achievement rate", "Engagement and retention metrics"},
	},
	{
		id:        "devops-site-reliability",
		keywords:  []string{"devops", "deploy", "infrastructure", "ci/cd", "monitoring", "reliability", "kubernetes", "docker", "cloud", "aws", "gcp"},
		suffix:    "Engineer",
		focus:     "specialized in deployment and reliability engineering",
		resources: []string{"Google SRE book", "CNCF project documentation", "AWS/GCP Well-Architected Frameworks"},
		metrics:   []string{"Mean time to recovery (MTTR)", "Deployment success rate", "System uptime percentage"},
	},
	{
		id:       "business-monetization",
		keywords: []string{"monetize", "pricing", "business", "revenue", "startup", "saas", "subscription", "freemium", "marketing"},
	},
	{
		id:       "documentation-visualization",
		keywords: []string{"document", "diagram", "chart", "visualization", "flowchart", "architecture", "readme", "wiki", "specification"},
	},
}

// Categories returns the category ids the analyzer can propose.
func Categories() []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = c.id
	}
	return out
}

func lookup(id string) category {
	for _, c := range categories {
		if c.id == id {
			return c
		}
	}
	return category{id: id}
}

// detectCategory scores every category by keyword hits in the query. A
// phrase keyword counts twice. Single words match whole query words, or
// their prefix when the keyword has at least four runes ("designer" hits
// "design").
func detectCategory(query string) string {
	norm := textutil.Normalize(query)
	words := textutil.Words(query)

	best, bestScore := DefaultCategory, 0
	for _, c := range categories {
		score := 0
		for _, kw := range c.keywords {
			switch {
			case strings.ContainsAny(kw, " /"):
				if strings.Contains(norm, kw) {
					score += 2
				}
			case hasWord(words, kw):
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c.id, score
		}
	}
	return best
}

func hasWord(words []string, kw string) bool {
	prefix := utf8.RuneCountInString(kw) >= 4
	for _, w := range words {
		if w == kw || (prefix && strings.HasPrefix(w, kw)) {
			return true
		}
	}
	return false
}
