// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by the codeden test suites: a
// controllable Clock for retry and history timing, a semaphore capping
// concurrent container integration tests, and Must* cleanup helpers.
//
// Clock is also used by production code, which takes a RealClock by
// default.
package testutil
