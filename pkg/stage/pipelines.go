package stage

// Instructions for the two pipeline stages. The bootstrap stage scans every
// page once and emits the shared project memory; the migration stage turns
// one page into an Angular component using that memory.

// BootstrapInstruction drives the project-wide scan.
const BootstrapInstruction = `You receive a JSON array of JSF/XHTML page paths with their contents.
Extract bean references (#{...} and ${...}), dataTables, dialogs, forms,
repeated components, CSS classes and page titles across the whole project.
Respond with one JSON object:
{"global_beans": [...], "global_tables": [...], "global_dialogs": [...],
 "common_components": [...], "styles": [...]}`

// MigrationInstruction drives one page's migration.
const MigrationInstruction = `You receive {"file_path": "...", "file_content": "...", "project_memory": {...}}.
Migrate this JSF/XHTML page to an Angular component:
1. Extract EL expressions, bean method calls (action=, actionListener=),
   data tables, form bindings, validations and ajax update/process attributes.
2. Extract the UI structure: layout blocks, dialogs, dataTables, buttons,
   CSS classes and inline styles.
3. Produce a migration blueprint: component_name (kebab-case), angular
   equivalents, services_needed, routing_path, form_structure, table and
   dialog mappings.
4. Generate the component TS/HTML/CSS and stub services.
Respond with one JSON object:
{"logic_report": {...}, "visual_report": {...}, "migration_blueprint": {...},
 "generated_files": [{"path": "...", "content": "..."}, ...],
 "evaluation_report": {"score": 0-10, "issues": [...], "recommendations": [...]}}`
