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

package errors

import "errors"

// IsRetriable reports whether the error can be resolved by discarding the
// staged package and pulling again. Only integrity failures qualify.
func IsRetriable(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsFatal reports whether the error requires operator intervention rather
// than another attempt.
func IsFatal(err error) bool {
	var (
		ce *ConfigError
		oe *OwnershipError
		re *RollbackError
	)
	return errors.As(err, &ce) || errors.As(err, &oe) || errors.As(err, &re)
}
