// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file bakes the vulnerability pattern table into the binary so the rule
chain and the pattern categories travel with the executable and cannot drift
from the code that evaluates them.
*/

package enforcement

import (
	_ "embed"
)

// VulnerabilityPatterns holds the raw bytes of 'vulnerability_patterns.yaml'.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.VulnerabilityPatterns, &targetStruct)
//
//go:embed vulnerability_patterns.yaml
var VulnerabilityPatterns []byte
