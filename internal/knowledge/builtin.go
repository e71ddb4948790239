package knowledge

// Builtin 返回内置的码头术语条目，未配置知识库文件时使用。
func Builtin() []Snippet {
	return []Snippet{
		{
			Title:    "Holds",
			Content:  "A container cannot leave the terminal while any hold is active. Carrier (line) holds clear when freight is paid; customs and USDA holds clear when the agency marks them RELEASED; yard, terminal and miscellaneous holds are placed by the terminal operator.",
			Keywords: []string{"hold", "customs", "usda", "released"},
			Intents:  []string{"holds", "availability"},
		},
		{
			Title:    "Last free day",
			Content:  "The last free day (LFD) is the final day a container may stay at the terminal without storage charges. After it passes, demurrage accrues daily until pickup. The line last free day is set by the ocean carrier and can differ from the terminal's.",
			Keywords: []string{"last free", "lfd", "demurrage", "storage"},
			Intents:  []string{"last_free_day"},
		},
		{
			Title:    "Availability",
			Content:  "Available means the container is discharged and grounded in the yard. It is ready for pickup only when it is available and has no active holds.",
			Keywords: []string{"available", "pickup", "pick up", "ready"},
			Intents:  []string{"availability", "status"},
		},
		{
			Title:    "Yard location",
			Content:  "Yard positions are written block / bay / row / tier. A container still on the vessel has no yard position until it is discharged.",
			Keywords: []string{"where", "location", "yard", "block"},
			Intents:  []string{"location"},
		},
	}
}
