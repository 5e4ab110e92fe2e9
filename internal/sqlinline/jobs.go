package sqlinline

const jobColumns = `
  id::text,
  owner_id,
  input_reference,
  job_type,
  settings,
  locale,
  status,
  progress,
  result,
  error_message,
  created_at,
  started_at,
  completed_at,
  updated_at`

const QInsertJob = `--sql 8d0d6b1b-d88c-47ca-9a48-30455a93d84b
insert into photo_jobs (
  id,
  owner_id,
  input_reference,
  job_type,
  settings,
  locale,
  status,
  progress,
  created_at,
  updated_at
)
values ($1::uuid, $2::text, $3::text, $4::text, $5::jsonb, $6::text, $7::text, $8::int, $9::timestamptz, $9::timestamptz);
`

const QSelectJob = `--sql 3cd9d85f-a1b8-479d-81dc-49192d5a994d
select` + jobColumns + `
from photo_jobs
where id = $1::uuid;
`

// QTransitionJob only matches while the stored status equals $2, so two
// racing writers cannot both succeed.
const QTransitionJob = `--sql 6b6d3918-7d96-49bf-b536-c65b1c16e6d1
update photo_jobs
set
  status        = $3::text,
  progress      = $4::int,
  result        = $5::jsonb,
  error_message = $6::text,
  started_at    = $7::timestamptz,
  completed_at  = $8::timestamptz,
  updated_at    = $9::timestamptz
where id = $1::uuid
  and status = $2::text
returning` + jobColumns + `;
`

const QSelectJobStatus = `--sql 2a08db22-fb9d-4a04-9e1b-8bd1af7cef57
select status
from photo_jobs
where id = $1::uuid;
`

const QUpdateJobProgress = `--sql 256367db-a765-480d-9bef-4487688c4486
update photo_jobs
set
  progress   = greatest(progress, least($2::int, 99)),
  updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QCountJobsByStatus = `--sql 5dd21473-8c99-4c28-821b-18a46ab9a94b
select status, count(*)::int
from photo_jobs
group by status;
`
