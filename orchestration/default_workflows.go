package orchestration

// DefaultWorkflows returns one workflow per IssueType using the canonical
// action handlers, so ExecuteWorkflow never fails the "every IssueType
// must have exactly one registered workflow" invariant out of the box.
// Deployments with richer remediation logic override entries via
// Engine.RegisterWorkflow or LoadWorkflowsFromYAML.
func DefaultWorkflows() []Workflow {
	return []Workflow{
		{
			Name:      "recover_timeout",
			IssueType: IssueTimeout,
			Actions: []Action{
				{Name: "increase_timeout", Handler: "increase_timeout"},
				{Name: "retry_stage", Handler: "retry_stage", RetryOnFailure: true, MaxRetries: 3},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_hanging_process",
			IssueType: IssueHangingProcess,
			Actions: []Action{
				{Name: "kill_hanging_process", Handler: "kill_hanging_process"},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_memory_exhausted",
			IssueType: IssueMemoryExhausted,
			Actions: []Action{
				{Name: "free_memory", Handler: "free_memory"},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState:      StateRunning,
			FailureState:      StateFailed,
			RollbackOnFailure: true,
		},
		{
			Name:      "recover_disk_full",
			IssueType: IssueDiskFull,
			Actions: []Action{
				{Name: "cleanup_temp_files", Handler: "cleanup_temp_files"},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_network_error",
			IssueType: IssueNetworkError,
			Actions: []Action{
				{Name: "wait_backoff", Handler: "wait_backoff", RetryOnFailure: true, MaxRetries: 3},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_compilation_error",
			IssueType: IssueCompilationError,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_test_failure",
			IssueType: IssueTestFailure,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_security_vulnerability",
			IssueType: IssueSecurityVuln,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState:      StateRunning,
			FailureState:      StateFailed,
			RollbackOnFailure: true,
		},
		{
			Name:      "recover_linting_error",
			IssueType: IssueLintingError,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_missing_dependency",
			IssueType: IssueMissingDependency,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_version_conflict",
			IssueType: IssueVersionConflict,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_import_error",
			IssueType: IssueImportError,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_llm_api_error",
			IssueType: IssueLLMAPIError,
			Actions: []Action{
				{Name: "wait_backoff", Handler: "wait_backoff", RetryOnFailure: true, MaxRetries: 3},
				{Name: "reset_circuit", Handler: "reset_circuit"},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_llm_timeout",
			IssueType: IssueLLMTimeout,
			Actions: []Action{
				{Name: "increase_timeout", Handler: "increase_timeout"},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_llm_rate_limit",
			IssueType: IssueLLMRateLimit,
			Actions: []Action{
				{Name: "wait_backoff", Handler: "wait_backoff", RetryOnFailure: true, MaxRetries: 5},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_invalid_llm_response",
			IssueType: IssueInvalidLLMResponse,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage", RetryOnFailure: true, MaxRetries: 2},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_architecture_invalid",
			IssueType: IssueArchitectureInvalid,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState:      StateRunning,
			FailureState:      StateFailed,
			RollbackOnFailure: true,
		},
		{
			Name:      "recover_code_review_failed",
			IssueType: IssueCodeReviewFailed,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_integration_conflict",
			IssueType: IssueIntegrationConflict,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState:      StateRunning,
			FailureState:      StateFailed,
			RollbackOnFailure: true,
		},
		{
			Name:      "recover_validation_failed",
			IssueType: IssueValidationFailed,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_arbitration_deadlock",
			IssueType: IssueArbitrationDeadlock,
			Actions: []Action{
				{Name: "wait_backoff", Handler: "wait_backoff"},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_developer_conflict",
			IssueType: IssueDeveloperConflict,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_messenger_error",
			IssueType: IssueMessengerError,
			Actions: []Action{
				{Name: "wait_backoff", Handler: "wait_backoff", RetryOnFailure: true, MaxRetries: 3},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_invalid_card",
			IssueType: IssueInvalidCard,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_corrupted_state",
			IssueType: IssueCorruptedState,
			Actions: []Action{
				{Name: "restart_process", Handler: "restart_process"},
			},
			SuccessState:      StateRunning,
			FailureState:      StateFailed,
			RollbackOnFailure: true,
		},
		{
			Name:      "recover_rag_error",
			IssueType: IssueRAGError,
			Actions: []Action{
				{Name: "wait_backoff", Handler: "wait_backoff", RetryOnFailure: true, MaxRetries: 3},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_zombie_process",
			IssueType: IssueZombieProcess,
			Actions: []Action{
				{Name: "kill_hanging_process", Handler: "kill_hanging_process"},
				{Name: "restart_process", Handler: "restart_process"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_file_lock",
			IssueType: IssueFileLock,
			Actions: []Action{
				{Name: "wait_backoff", Handler: "wait_backoff"},
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
		{
			Name:      "recover_permission_denied",
			IssueType: IssuePermissionDenied,
			Actions: []Action{
				{Name: "retry_stage", Handler: "retry_stage"},
			},
			SuccessState: StateRunning,
			FailureState: StateFailed,
		},
	}
}
