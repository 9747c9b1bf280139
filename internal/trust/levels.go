package trust

// Builtin trust tier names.
const (
	LevelNone     = "None"
	LevelLow      = "Low"
	LevelMedium   = "Medium"
	LevelHigh     = "High"
	LevelComplete = "Complete"
)

// BuiltinTrustLevels is the predefined tier catalog ensured by setup and
// seed routines. Medium is the system default posture for new groups.
var BuiltinTrustLevels = []TrustLevel{
	{
		Name:                      LevelNone,
		Description:               "No trust established; nothing is shared",
		NumericalValue:            0,
		DefaultAnonymizationLevel: AnonymizationFull,
		DefaultAccessLevel:        AccessNone,
		IsActive:                  true,
	},
	{
		Name:                      LevelLow,
		Description:               "Minimal trust; heavily anonymized read access",
		NumericalValue:            25,
		DefaultAnonymizationLevel: AnonymizationFull,
		DefaultAccessLevel:        AccessRead,
		IsActive:                  true,
	},
	{
		Name:                      LevelMedium,
		Description:               "Standard community trust posture",
		NumericalValue:            50,
		DefaultAnonymizationLevel: AnonymizationPartial,
		DefaultAccessLevel:        AccessSubscribe,
		IsActive:                  true,
		IsSystemDefault:           true,
	},
	{
		Name:                      LevelHigh,
		Description:               "High trust between vetted partners",
		NumericalValue:            75,
		DefaultAnonymizationLevel: AnonymizationMinimal,
		DefaultAccessLevel:        AccessContribute,
		IsActive:                  true,
	},
	{
		Name:                      LevelComplete,
		Description:               "Complete trust; unredacted bidirectional sharing",
		NumericalValue:            100,
		DefaultAnonymizationLevel: AnonymizationNone,
		DefaultAccessLevel:        AccessFull,
		IsActive:                  true,
	},
}
