package core

// XPPerLevel is the XP needed to advance one level.
const XPPerLevel int64 = 50

// Level maps cumulative XP to a level: max(1, floor(xp/50)+1).
func Level(totalXP int64) int64 {
	if totalXP <= 0 {
		return 1
	}
	return totalXP/XPPerLevel + 1
}

// NextLevelXP is the cumulative XP at which level+1 begins.
func NextLevelXP(level int64) int64 {
	if level < 1 {
		level = 1
	}
	return level * XPPerLevel
}
