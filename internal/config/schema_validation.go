package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	launchschema "github.com/Paintersrp/remotelaunch/schema"
)

const launchSchemaURL = "launch.v1.json"

var compileLaunchSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(launchSchemaURL, bytes.NewReader(launchschema.LaunchV1Schema)); err != nil {
		return nil, fmt.Errorf("add launch schema: %w", err)
	}
	schema, err := compiler.Compile(launchSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile launch schema: %w", err)
	}
	return schema, nil
})

// validateAgainstSchema checks a decoded YAML document against the embedded
// launch schema and lists every violated leaf, one per line.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := compileLaunchSchema()
	if err != nil {
		return err
	}

	// Round-trip through JSON so YAML scalars become the types the schema
	// validator expects.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("prepare launch file for schema validation: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("prepare launch file for schema validation: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var vErr *jsonschema.ValidationError
	if !errors.As(err, &vErr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	problems := leafProblems(vErr, nil)
	sort.Strings(problems)
	return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(problems, "\n  - "))
}

func leafProblems(err *jsonschema.ValidationError, out []string) []string {
	if len(err.Causes) == 0 {
		return append(out, fmt.Sprintf("%s: %s", instancePath(err.InstanceLocation), err.Message))
	}
	for _, cause := range err.Causes {
		out = leafProblems(cause, out)
	}
	return out
}

// instancePath turns a JSON pointer such as /entries/0/command into
// entries[0].command.
func instancePath(ptr string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(segment); err == nil {
			fmt.Fprintf(&b, "[%s]", segment)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segment)
	}
	if b.Len() == 0 {
		return "launch file"
	}
	return b.String()
}
