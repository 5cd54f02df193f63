package schema

import _ "embed"

// LaunchV1Schema contains the JSON schema for launch files.
//
//go:embed launch.v1.json
var LaunchV1Schema []byte
