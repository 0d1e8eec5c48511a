// Package tracker holds the domain model of the review notifier: external users,
// their cached latest review, channel followings, the error taxonomy shared by
// the extraction, synchronization and delivery layers, and the collaborator
// interfaces those layers depend on. It must not import drivers or clients.
package tracker
