package sor

// ProfileField is one logical report field resolved against the learner's
// profile data by probing candidate keys in order. LMS installs name these
// fields inconsistently, so the variants live here as data rather than as
// branching in the validation code.
type ProfileField struct {
	Name string
	Keys []string
}

// profileFields are the soft fields checked before rendering. A missing
// field is logged as a warning and does not block the statement.
var profileFields = []ProfileField{
	{
		Name: "Registration Number",
		Keys: []string{"Registration Number", "registration_number", "reg_number"},
	},
	{
		Name: "Date of Birth",
		Keys: []string{"Date of Birth", "dob", "dateofbirth", "ID Number", "idnumber"},
	},
	{
		Name: "Learner Number",
		Keys: []string{"Learner Number", "learner_number", "learner_id"},
	},
}

// LookupProfileField returns the first non-empty value among the candidate
// keys for the field.
func LookupProfileField(profile map[string]string, field ProfileField) (string, bool) {
	for _, key := range field.Keys {
		if v, ok := profile[key]; ok && v != "" {
			return v, true
		}
	}

	return "", false
}

// missingProfileFields lists the logical names of soft fields that could not
// be resolved from the profile data.
func missingProfileFields(profile map[string]string) []string {
	var missing []string
	for _, field := range profileFields {
		if _, ok := LookupProfileField(profile, field); !ok {
			missing = append(missing, field.Name)
		}
	}

	return missing
}
