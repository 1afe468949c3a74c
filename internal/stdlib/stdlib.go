// Package stdlib implements the pure helper library exposed to sandboxed
// functions as the global `std` object. Everything here is deterministic
// (aside from identifier/random-string generation), side-effect free, and
// identical across tenants. A fresh Lib is built per invocation so nothing
// in this package is shared between concurrently running functions.
//
// Method and field names are chosen so that the engine's field-name mapper
// (json tags for fields, uncapitalized method names) produces the exact
// identifiers bundled code expects: std.uuid(), std.hash.sha256(), and so on.
package stdlib

// Lib is the root of the sandbox standard library.
type Lib struct {
	Encoding    *EncodingLib    `json:"encoding"`
	Hash        *HashLib        `json:"hash"`
	Collections *CollectionsLib `json:"collections"`
	Dates       *DatesLib       `json:"dates"`
	Strings     *StringsLib     `json:"strings"`
	Token       *TokenLib       `json:"token"`
	Markdown    *MarkdownLib    `json:"markdown"`
	Schema      *SchemaLib      `json:"schema"`
	HTTP        *ResponseLib    `json:"http"`
}

// New builds a fresh stdlib instance for one invocation.
func New() *Lib {
	return &Lib{
		Encoding:    &EncodingLib{},
		Hash:        &HashLib{},
		Collections: &CollectionsLib{},
		Dates:       &DatesLib{},
		Strings:     &StringsLib{},
		Token:       &TokenLib{},
		Markdown:    &MarkdownLib{},
		Schema:      &SchemaLib{},
		HTTP:        newResponseLib(),
	}
}

// Uuid returns a random version-4 identifier in canonical
// 8-4-4-4-12 hex-with-dashes form. Exposed to sandboxed code as std.uuid().
func (l *Lib) Uuid() string {
	return newUUID()
}
