package credibility

// Rule is one independent scoring heuristic.
type Rule struct {
	Name   string
	Weight float64
	Match  func(Features) bool
}

// DefaultRules returns the standard heuristic set. Positive weights reward
// signs of a live reaction; negative weights mark references to past or
// external reports.
func DefaultRules() []Rule {
	return []Rule{
		{"very_brief", 0.16, func(f Features) bool { return f.Length <= 40 }},
		{"brief", 0.08, func(f Features) bool { return f.Length > 40 && f.Length <= 80 }},
		{"long", -0.08, func(f Features) bool { return f.Length > 140 }},
		{"uppercase", 0.25, func(f Features) bool { return f.Letters >= 4 && f.UppercaseRatio() > 0.5 }},
		{"exclamation", 0.05, func(f Features) bool { return f.Exclamations > 0 }},
		{"double_exclamation", 0.03, func(f Features) bool { return f.DoubleExcl }},
		{"question", -0.05, func(f Features) bool { return f.Questions > 0 && !f.DoubleQuest }},
		{"double_question", 0.08, func(f Features) bool { return f.DoubleQuest }},
		{"url", -0.2, func(f Features) bool { return f.HasURL }},
		{"magnitude", -0.15, func(f Features) bool { return f.HasMagnitude }},
		{"mention", -0.1, func(f Features) bool { return f.Mentions > 0 }},
		{"hashtags", 0.03, func(f Features) bool { return f.Hashtags > 1 }},
		{"worried_emoji", 0.13, func(f Features) bool { return f.WorriedEmoji }},
		{"other_emoji", -0.1, func(f Features) bool { return f.Emoji > 0 && !f.WorriedEmoji }},
		{"intensifier", 0.15, func(f Features) bool { return f.Intensifier }},
		{"laughter", -0.08, func(f Features) bool { return f.Laughter }},
		{"simulation", -0.5, func(f Features) bool { return f.Simulation }},
		{"unknown_language", -0.1, func(f Features) bool { return f.UnknownLanguage }},
	}
}
