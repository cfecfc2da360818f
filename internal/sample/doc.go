// SPDX-License-Identifier: MPL-2.0

// Package sample holds the arithmetic regression check shipped with every
// environment: a per-language program that prints "Sum of 10 and 20 is: 30"
// and the functions that compute and verify that line.
package sample
