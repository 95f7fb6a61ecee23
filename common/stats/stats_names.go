package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/************************* Task metrics **************************/
	/*
		number of jobs handed to the scheduler
	*/
	TaskSubmitCounter = "submitCounter"

	/*
		number of submissions the scheduler rejected or that failed to run
	*/
	TaskSubmitFailureCounter = "submitFailureCounter"

	/*
		outputs found on storage with no live job and marked done
	*/
	TaskOutputDoneCounter = "outputDoneCounter"

	/*
		jobs removed for running longer than the running threshold
	*/
	TaskLongRunningRemovedCounter = "longRunningRemovedCounter"

	/*
		jobs removed for staying held longer than the held threshold
	*/
	TaskHeldRemovedCounter = "heldRemovedCounter"

	/*
		straggler jobs and outputs removed once the completion fraction was reached
	*/
	TaskStragglerRemovedCounter = "stragglerRemovedCounter"

	/*
		outputs skipped in a pass because storage could not be consulted
	*/
	TaskStorageErrorCounter = "storageErrorCounter"

	/*
		outputs skipped because no site could be selected
	*/
	TaskNoSitesCounter = "noSitesCounter"

	/*
		number of outputs in the mapping, and how many of them are done
	*/
	TaskOutputsGauge     = "outputsGauge"
	TaskDoneOutputsGauge = "doneOutputsGauge"

	/*
		done outputs over all outputs
	*/
	TaskFractionDoneGauge = "fractionDoneGauge"

	/*
		time spent in one reconciliation pass of one task
	*/
	TaskProcessLatency_ms = "processLatency_ms"

	/************************* Scheduler client metrics **************************/
	/*
		latency and failure counts of condor_q, condor_submit and condor_rm
	*/
	CondorQueryLatency_ms      = "queryLatency_ms"
	CondorQueryFailureCounter  = "queryFailureCounter"
	CondorQueryRetryCounter    = "queryRetryCounter"
	CondorSubmitLatency_ms     = "submitLatency_ms"
	CondorSubmitFailureCounter = "submitFailureCounter"
	CondorRemoveLatency_ms     = "removeLatency_ms"
	CondorRemoveFailureCounter = "removeFailureCounter"

	/*
		rows returned by condor_q that could not be parsed
	*/
	CondorBadRowCounter = "badRowCounter"

	/************************* Sample metrics **************************/
	/*
		catalog lookups answered from the TTL cache, and those that went to the catalog
	*/
	SampleCacheHitCounter  = "cacheHitCounter"
	SampleCacheMissCounter = "cacheMissCounter"

	/*
		latency of catalog HTTP requests
	*/
	SampleCatalogLatency_ms = "catalogLatency_ms"

	/************************* Driver metrics **************************/
	/*
		number of driver ticks, and their duration
	*/
	DriverTickCounter    = "tickCounter"
	DriverTickLatency_ms = "tickLatency_ms"

	/*
		tasks whose processing returned an error or panicked during a tick
	*/
	DriverTaskFailureCounter = "taskFailureCounter"
	DriverTaskPanicCounter   = "taskPanicCounter"

	/*
		tasks still incomplete after a tick
	*/
	DriverIncompleteTasksGauge = "incompleteTasksGauge"
)
