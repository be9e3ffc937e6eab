package db

// SchemaSQL defines the catalog tables.
const SchemaSQL = `
    -- ==========================================================================
    -- API ITEM TABLE (converted specifications)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS api_item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS dedup_key ON api_item TYPE string;
    DEFINE FIELD IF NOT EXISTS source ON api_item TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON api_item TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON api_item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS version ON api_item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS source_url ON api_item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS download_url ON api_item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS popularity_score ON api_item TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS repo_owner ON api_item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS repo_name ON api_item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS file_path ON api_item TYPE string DEFAULT "";
    -- TODO: Use set<string> when Go SDK supports CBOR tag 56 (v3.0 set type)
    DEFINE FIELD IF NOT EXISTS categories ON api_item TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS openapi_path ON api_item TYPE string;
    DEFINE FIELD IF NOT EXISTS collection_path ON api_item TYPE string;
    DEFINE FIELD IF NOT EXISTS docs_path ON api_item TYPE string;
    DEFINE FIELD IF NOT EXISTS discovered_at ON api_item TYPE datetime;
    DEFINE FIELD IF NOT EXISTS updated_at ON api_item TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS api_item_dedup ON api_item FIELDS dedup_key UNIQUE;
    DEFINE INDEX IF NOT EXISTS api_item_categories ON api_item FIELDS categories;
    DEFINE INDEX IF NOT EXISTS api_item_source ON api_item FIELDS source;

    -- ==========================================================================
    -- SCRAPE RUN TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS scrape_run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source ON scrape_run TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON scrape_run TYPE string;
    DEFINE FIELD IF NOT EXISTS items_found ON scrape_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS items_processed ON scrape_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS items_failed ON scrape_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS failures ON scrape_run TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS options ON scrape_run TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON scrape_run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON scrape_run TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON scrape_run TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS scrape_run_status ON scrape_run FIELDS status;
`
