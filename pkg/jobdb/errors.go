/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package jobdb

import "errors"

// ErrNoPendingJobs is returned by MostPriorJob when the pending queue
// is empty; callers (the scheduler) are expected to check first.
var ErrNoPendingJobs = errors.New("jobdb: no pending jobs")

// ErrUnknownJob names a jobid the database has no record of. No
// Database method returns it: the methods look a jobid up without a
// presence check.
var ErrUnknownJob = errors.New("jobdb: unknown job")
