// Package workflows holds the Temporal workflow that sequences an
// engagement's phases and the activities bridging it to the phase
// orchestrator. Phase execution and approval gates are asynchronous
// activities: they return immediately with a pending result and are
// completed later through their task token, so no worker slot is held
// while agents run or a customer deliberates.
package workflows
