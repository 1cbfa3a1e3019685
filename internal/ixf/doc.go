// Package ixf holds the data model shared by the IX-F notification
// components: proposals derived from an exchange's IX-F member export, the
// field-level change sets they carry, and the recipient roles a
// notification is rendered for.
package ixf
