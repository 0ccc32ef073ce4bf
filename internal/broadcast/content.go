package broadcast

// MorningAzkar is the default morning content set.
var MorningAzkar = []string{
	"📌 <b>أذكار الصباح:</b>\n\nاللهم بك أصبحنا، وبك أمسينا، وبك نحيا، وبك نموت، وإليك النشور. (مرة واحدة)",
	"📌 <b>أذكار الصباح:</b>\n\nأَصْبَحْنَا وَأَصْبَحَ الْمُلْكُ لِلَّهِ وَالْحَمْدُ لِلَّهِ، لَا إِلَهَ إِلَّا اللَّهُ وَحْدَهُ لَا شَرِيكَ لَهُ، لَهُ الْمُلْكُ وَلَهُ الْحَمْدُ وَهُوَ عَلَى كُلِّ شَيْءٍ قَدِيرٌ. (مرة واحدة)",
	"📌 <b>أذكار الصباح:</b>\n\nيَا حَيُّ يَا قَيُّومُ بِرَحْمَتِكَ أَسْتَغِيثُ أَصْلِحْ لِي شَأْنِي كُلَّهُ وَلَا تَكِلْنِي إِلَى نَفْسِي طَرْفَةَ عَيْنٍ. (مرة واحدة)",
}

// EveningAzkar is the default evening content set.
var EveningAzkar = []string{
	"📌 <b>أذكار المساء:</b>\n\nاللهم بك أمسينا، وبك أصبحنا، وبك نحيا، وبك نموت، وإليك المصير. (مرة واحدة)",
	"📌 <b>أذكار المساء:</b>\n\nأَمْسَيْنَا وَأَمْسَى الْمُلْكُ لِلَّهِ وَالْحَمْدُ لِلَّهِ، لَا إِلَهَ إِلَّا اللَّهُ وَحْدَهُ لَا شَرِيكَ لَهُ، لَهُ الْمُلْكُ وَلَهُ الْحَمْدُ وَهُوَ عَلَى كُلِّ شَيْءٍ قَدِيرٌ. (مرة واحدة)",
	"📌 <b>أذكار المساء:</b>\n\nأعوذ بكلمات الله التامات من شر ما خلق. (ثلاث مرات)",
}

// DefaultSchedules are used when no broadcasts are configured.
func DefaultSchedules() []Schedule {
	return []Schedule{
		{Name: "azkar_morning", At: "06:30", Content: MorningAzkar},
		{Name: "azkar_evening", At: "19:00", Content: EveningAzkar},
	}
}

// JobID is the timer job id of a recurring broadcast.
func JobID(name string) string { return Kind + ":" + name }
