// Package form holds per-field validation state for user input forms.
//
// A Field carries its value, an ordered list of rules and the outcome of the
// last validation. Rules run in order and the first failure sets the field's
// error. A field only ever shows an error once it has been validated.
package form

// Rule is a predicate over a field value and the message shown when it
// fails.
type Rule struct {
	Validate func(value string) bool
	Message  string
}

// Field is the validation state of one input.
type Field struct {
	Name    string
	Value   string
	Rules   []Rule
	Touched bool
	// Error is the message of the first failing rule, empty when the field
	// is valid or untouched.
	Error string
}

// Validate marks f touched and runs its rules in order, stopping at the
// first failure.
func (f *Field) Validate() bool {
	f.Touched = true
	for _, r := range f.Rules {
		if !r.Validate(f.Value) {
			f.Error = r.Message
			return false
		}
	}
	f.Error = ""
	return true
}

// Reset clears the value and validation state.
func (f *Field) Reset() {
	f.Value = ""
	f.Error = ""
	f.Touched = false
}

// Form is an ordered set of fields.
type Form struct {
	fields []*Field
	byName map[string]*Field
}

// New returns a form over fields, keeping their order. A later field with the
// same name replaces an earlier one in lookups.
func New(fields ...*Field) *Form {
	f := &Form{fields: fields, byName: make(map[string]*Field, len(fields))}
	for _, fd := range fields {
		f.byName[fd.Name] = fd
	}
	return f
}

// Field returns the named field, or nil.
func (f *Form) Field(name string) *Field {
	return f.byName[name]
}

func (f *Form) Fields() []*Field {
	return f.fields
}

// Set updates the value of the named field without validating it. It
// reports whether the field exists.
func (f *Form) Set(name, value string) bool {
	fd, ok := f.byName[name]
	if ok {
		fd.Value = value
	}
	return ok
}

// ValidateField validates the named field. Unknown names are invalid.
func (f *Form) ValidateField(name string) bool {
	fd, ok := f.byName[name]
	if !ok {
		return false
	}
	return fd.Validate()
}

// ValidateAll validates every field, including those after a failing one,
// and reports whether all passed.
func (f *Form) ValidateAll() bool {
	ok := true
	for _, fd := range f.fields {
		if !fd.Validate() {
			ok = false
		}
	}
	return ok
}

// Reset clears every field.
func (f *Form) Reset() {
	for _, fd := range f.fields {
		fd.Reset()
	}
}

// IsValid reports whether every field has been validated and has no error.
func (f *Form) IsValid() bool {
	for _, fd := range f.fields {
		if !fd.Touched || fd.Error != "" {
			return false
		}
	}
	return true
}

// Errors returns the current error of every field that has one.
func (f *Form) Errors() map[string]string {
	errs := make(map[string]string)
	for _, fd := range f.fields {
		if fd.Error != "" {
			errs[fd.Name] = fd.Error
		}
	}
	return errs
}
