package common

// Split thresholds
const DEFAULT_EPS_1 = 0.4
const DEFAULT_EPS_2 = 1.6
const DEFAULT_WARMUP_ROUNDS = 20
const DEFAULT_SEQ_LENGTH = 5
const MIN_SPLITTABLE_CLUSTER_SIZE = 3

// Reputation
const DEFAULT_REPUTATION_RETAIN = 0.95
const DEFAULT_REPUTATION_FLOOR = 1e-3

// Training
const DEFAULT_LOCAL_EPOCHS = 1
const DEFAULT_ROUNDS = 200
const DEFAULT_MU = 0.01
const DEFAULT_FRACTION = 1.0

// Progress
const PROGRESS_LOG_EVERY = 50
const CONVERGENCE_THRESHOLD = 0.001
const CONVERGENCE_PATIENCE = 5
const CONVERGENCE_WINDOW = 3

// Results
const RESULTS_DIRECTORY = "experiments/results"
const FINAL_CACHE_COLUMN = "FL Model"

// Events
const ROUND_FINISHED_EVENT_TYPE = "RoundFinished"
const CLUSTER_SPLIT_EVENT_TYPE = "ClusterSplit"
const FL_FINISHED_EVENT_TYPE = "FlFinished"

// Run states
const RUN_STATE_INIT = "INIT"
const RUN_STATE_ROUND = "ROUND"
const RUN_STATE_DONE = "DONE"
const RUN_STATE_FAILED = "FAILED"
const RUN_STATE_STOPPED = "STOPPED"
