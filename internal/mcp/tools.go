package mcp

import "github.com/mark3labs/mcp-go/mcp"

var splitCheckToolDef = mcp.NewTool("bag_splitcheck",
	mcp.WithDescription("Verify that the sub-bags of a split together carry exactly the original bag's payload. "+
		"On success, stores the original's tag files in a <bag>__metadata bag inside the split directory."),
	mcp.WithString("bag_path",
		mcp.Required(),
		mcp.Description("Path to the original bag"),
	),
	mcp.WithString("split_dir",
		mcp.Description("Directory holding the sub-bags (default: <bag_path>_split)"),
	),
	mcp.WithBoolean("no_verify",
		mcp.Description("Skip checksum validation of every bag"),
	),
	mcp.WithBoolean("no_metadata_bag",
		mcp.Description("Do not create the metadata bag after a successful check"),
	),
	mcp.WithString("report_path",
		mcp.Description("Write a Markdown (.md) or HTML (.html) report to this path"),
	),
)

var unsplitToolDef = mcp.NewTool("bag_unsplit",
	mcp.WithDescription("Merge the sub-bags of a split directory into one new bag. "+
		"Refuses to overwrite an existing destination. The metadata bag, if present, restores the original tag files."),
	mcp.WithString("split_dir",
		mcp.Required(),
		mcp.Description("Directory holding the sub-bags"),
	),
	mcp.WithString("output_dir",
		mcp.Description("Destination bag (default: split_dir without its _split suffix, or with _merged appended)"),
	),
	mcp.WithBoolean("no_verify",
		mcp.Description("Skip checksum validation of the sub-bags and of the merged bag"),
	),
	mcp.WithString("report_path",
		mcp.Description("Write a Markdown (.md) or HTML (.html) report to this path"),
	),
)

var historyToolDef = mcp.NewTool("bag_history",
	mcp.WithDescription("List recorded splitcheck and unsplit runs, newest first."),
	mcp.WithString("operation",
		mcp.Description("Only runs of this operation"),
		mcp.Enum("splitcheck", "unsplit"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum runs to return (default 20, max 100)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Runs to skip"),
	),
)
