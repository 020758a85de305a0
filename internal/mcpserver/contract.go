package mcpserver

// APIContract describes the filedesk REST contract for LLM consumers.
const APIContract = `# filedesk API Contract

All routes live under ` + "`/api`" + ` and, when auth is enabled, need
` + "`Authorization: Bearer <token>`" + `.

## Identifiers

- Folders are addressed by slash-delimited paths relative to a storage root
  (` + "`projects/2024`" + `). Leading, trailing and repeated slashes are ignored.
- Files are addressed by a numeric **uid** that survives renames and moves.
- Every storage has a numeric uid; storage 1 is the default.

## Routes

| Method | Path | Body | Result |
|---|---|---|---|
| POST | /files | multipart: file, targetPath, fileName?, storageUid? | 201 file |
| GET | /files/{uid} | | 200 file |
| GET | /files/{uid}/content | | 200 raw content |
| DELETE | /files/{uid} | | 200 {success, message} |
| POST | /files/{uid}/rename | {newFileName, conflictStrategy?} | 200 {uid, identifier, name, previousName, modifiedAt} |
| POST | /files/{uid}/move | {targetPath, newFileName?, conflictStrategy?} | 200 {uid, identifier, name, previousPath, modifiedAt} |
| PUT | /files/{uid} | {title?, description?, alternative?, keywords?, copyright?} | 200 {success, message} |
| GET | /events | storage (optional uid) | SSE stream |

## Behaviour

1. **Missing folders are created.** Uploads and moves create every missing
   segment of ` + "`targetPath`" + `.
2. **Empty folders are pruned.** After a delete or move, the vacated folder and
   each ancestor left empty are removed. The storage root is never removed.
3. **Conflict strategies** are ` + "`REPLACE`" + `, ` + "`RENAME`" + ` (adds ` + "`_01`" + `, ` + "`_02`" + `, … before the
   extension) and ` + "`CANCEL`" + ` (409). Rename defaults to RENAME, move to REPLACE,
   uploads always replace. Unknown values mean RENAME.
4. **Metadata** accepts only title, description, alternative, keywords and
   copyright. Other keys are ignored; an empty body is a 400.

## Errors

` + "```" + `json
{"error": true, "message": "File not found", "statusCode": 404}
` + "```" + `

400 invalid input, 401 bad token, 403 read-only storage, 404 unknown file,
409 name clash or a folder path blocked by a file, 500 anything else.

## Events

` + "`file.created`" + `, ` + "`file.updated`" + `, ` + "`file.deleted`" + `, ` + "`file.renamed`" + `, ` + "`file.moved`" + ` carry
` + "`{uid, storageUid, identifier}`" + `; ` + "`storage.updated`" + ` is throttled per storage.
Pass ` + "`?storage=<uid>`" + ` to receive one storage only.
`
