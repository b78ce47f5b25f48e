// Copyright 2025 NexusPM
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package autonomy

import "regexp"

// PIIType identifies the category of personally identifiable information
// matched by a scan pattern.
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypeSSN        PIIType = "ssn"
	PIITypePhone      PIIType = "phone"
	PIITypeCreditCard PIIType = "credit_card"
)

type piiPattern struct {
	Type    PIIType
	Pattern *regexp.Regexp
}

// piiPatterns covers the PII categories that must never appear in action
// payloads. Patterns are compiled once at package init.
var piiPatterns = []piiPattern{
	{
		Type:    PIITypeEmail,
		Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	},
	{
		Type:    PIITypeSSN,
		Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	},
	{
		Type:    PIITypePhone,
		Pattern: regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`),
	},
	{
		Type:    PIITypeCreditCard,
		Pattern: regexp.MustCompile(`\b\d{4}-\d{4}-\d{4}-\d{4}\b`),
	},
}

// ScanPII returns the PII categories found in the given text, in pattern
// order. An empty result means the text is clean.
func ScanPII(text string) []PIIType {
	var found []PIIType
	for _, p := range piiPatterns {
		if p.Pattern.MatchString(text) {
			found = append(found, p.Type)
		}
	}
	return found
}
