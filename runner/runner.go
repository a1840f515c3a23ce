/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package runner holds small helpers shared by every background goroutine in
// this module, the way the teacher's own runner package backs its
// startStop/ticker lifecycle helpers.
package runner

import (
	"fmt"
	"log"
	"strings"
)

// RecoveryCaller logs a panic recovered from a deferred recover() call. r is
// nil when no panic occurred, in which case RecoveryCaller is a no-op. extra
// is appended as free-form context (file path, task id, ...).
func RecoveryCaller(name string, r any, extra ...string) {
	if r == nil {
		return
	}

	msg := fmt.Sprintf("panic recovered in %s: %v", name, r)
	if len(extra) > 0 {
		msg += " (" + strings.Join(extra, ", ") + ")"
	}

	log.Println(msg)
}
