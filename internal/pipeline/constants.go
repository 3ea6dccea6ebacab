package pipeline

// Task IDs of the Walmart_Data_Ingestion DAG.
const (
	TaskCreateDataset         = "create_dataset"
	TaskCreateMerchantsTable  = "create_merchants_table"
	TaskCreateSalesStageTable = "create_sales_stage_table"
	TaskCreateTargetTable     = "create_target_table"

	// LoadGroup prefixes the load tasks, which run side by side.
	LoadGroup         = "load_data"
	TaskLoadMerchants = LoadGroup + ".load_merchants"
	TaskLoadSales     = LoadGroup + ".load_sales"

	TaskMergeSales = "merge_sales"
)

// Phase selects which part of the DAG a run executes.
type Phase string

const (
	PhaseAll       Phase = "all"
	PhaseProvision Phase = "provision"
	PhaseLoad      Phase = "load"
	PhaseMerge     Phase = "merge"
)
