// Package fileutil provides filesystem helpers for the build phases:
// recursive source scanning with skip filters, and file copying.
package fileutil
