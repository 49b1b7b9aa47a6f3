// Copyright 2026 The accelctl Authors
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

package manifest

import (
	"strconv"
	"strings"
)

// IsBadVersion reports whether cur appears in the '|'-delimited denylist.
// The comparison is on the exact string form of cur, not numeric: 670 is
// not bad when the list says "67".
func IsBadVersion(cur int, badVersions string) bool {
	s := strconv.Itoa(cur)
	for _, v := range strings.Split(badVersions, "|") {
		if s == v {
			return true
		}
	}
	return false
}

// ShouldUpdate decides whether to move from cur to next. Forward moves
// are always taken, staying put never is, and a backward move is taken
// only when cur is denylisted, which is how the server forces a rollback
// against the normal forward-only rule.
func ShouldUpdate(cur, next int, badVersions string) bool {
	if cur < next {
		return true
	}
	if cur == next {
		return false
	}
	return IsBadVersion(cur, badVersions)
}
