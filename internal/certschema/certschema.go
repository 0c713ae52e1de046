// Package certschema validates signed certificate JSON against the
// envelope schema before it is handed to the verifier, catching
// malformed or truncated certificates with a clear error instead of a
// confusing downstream unmarshal failure.
package certschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"saferase/internal/errs"
)

//go:embed certificate.schema.json
var schemaJSON []byte

const schemaID = "https://saferase.internal/schema/signed-certificate-v1.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaID, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = errs.Serialization("certschema.schema", err)
			return
		}
		compiled, compileErr = compiler.Compile(schemaID)
	})
	return compiled, compileErr
}

// Validate checks that certificateJSON conforms to the signed certificate
// envelope schema.
func Validate(certificateJSON []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(certificateJSON, &instance); err != nil {
		return errs.Serialization("certschema.Validate", err)
	}

	if err := s.Validate(instance); err != nil {
		return errs.Certificate("certschema.Validate", err)
	}
	return nil
}
