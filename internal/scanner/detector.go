// Copyright (c) 2026 Runway Labs
//
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

package scanner

import (
	"fmt"
	"strings"

	"github.com/runwayhq/ingestion/internal/config"
)

// Detector classifies message senders against the retailer allow-list.
type Detector struct {
	retailers  []config.Retailer
	devSenders []string
}

// NewDetector builds a sender classifier. Dev senders (empty in
// production) are treated as the first configured retailer so end-to-end
// testing works with self-sent mail.
func NewDetector(retailers []config.Retailer, devSenders []string) *Detector {
	return &Detector{retailers: retailers, devSenders: devSenders}
}

// Classify maps a From header to a retailer name. ok=false means the
// message is not from a known purchase-confirmation sender.
func (d *Detector) Classify(from string) (retailer string, ok bool) {
	normalized := strings.ToLower(from)

	for _, r := range d.retailers {
		if strings.Contains(normalized, "@"+r.Domain) {
			return r.Name, true
		}
	}

	for _, sender := range d.devSenders {
		if strings.Contains(normalized, sender) {
			return d.retailers[0].Name, true
		}
	}

	return "", false
}

// SenderQuery builds the provider search clause over the allow-list, e.g.
// "from:(walmart.com OR costco.com) after:1700000000".
func (d *Detector) SenderQuery(afterEpoch int64) string {
	terms := make([]string, 0, len(d.retailers)+len(d.devSenders))
	for _, r := range d.retailers {
		terms = append(terms, r.Domain)
	}
	terms = append(terms, d.devSenders...)
	return fmt.Sprintf("from:(%s) after:%d", strings.Join(terms, " OR "), afterEpoch)
}
