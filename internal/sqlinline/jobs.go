package sqlinline

const QCreateJobsTable = `--sql a665fa95-2f48-4bf4-b4f6-27d459ca254e
create table if not exists generation_jobs (
    job_id           text primary key,
    kind             text not null default '',
    provider         text not null default '',
    duration_seconds double precision not null default 5,
    resolution       text not null default '720p',
    status           text not null default 'submitted',
    attempt          int not null default 0,
    max_attempts     int not null default 1,
    progress         int,
    message          text not null default '',
    primary_url      text not null default '',
    result_json      jsonb,
    created_at       timestamptz not null default now(),
    updated_at       timestamptz not null default now()
);
create index if not exists generation_jobs_open_idx
    on generation_jobs (updated_at)
    where status not in ('success', 'failed', 'timed-out');
`

const QUpsertJob = `--sql 54cbcf4d-7b0b-4289-8bbe-40f753cdb464
insert into generation_jobs (
    job_id, kind, provider, duration_seconds, resolution, status, max_attempts, created_at, updated_at
)
values ($1, $2, $3, $4, $5, 'submitted', $6, $7, $7)
on conflict (job_id) do update
set kind = case when excluded.kind = '' then generation_jobs.kind else excluded.kind end,
    provider = excluded.provider,
    duration_seconds = excluded.duration_seconds,
    resolution = excluded.resolution,
    max_attempts = excluded.max_attempts,
    updated_at = excluded.updated_at;
`

const QApplyJobEvent = `--sql 0d7b08cd-9d1f-483d-a1b2-4e03a1dc3434
update generation_jobs
set status = $2,
    attempt = $3,
    max_attempts = $4,
    progress = coalesce($5, progress),
    message = $6,
    updated_at = $7
where job_id = $1;
`

const QSetJobResult = `--sql 4aa3d0e8-02c3-46ed-a428-25e5f007f28e
update generation_jobs
set primary_url = $2,
    result_json = $3,
    updated_at = now()
where job_id = $1;
`

const QSelectJob = `--sql 5687f1e8-6a21-4141-8e4a-292d9b0f63c4
select job_id, kind, provider, duration_seconds, resolution, status, attempt, max_attempts,
       progress, message, primary_url, created_at, updated_at
from generation_jobs
where job_id = $1;
`

const QClaimStaleJobs = `--sql bfab569e-eba1-41d3-8482-9bec9d617715
with stale as (
    select job_id
    from generation_jobs
    where status not in ('success', 'failed', 'timed-out')
      and updated_at < now() - make_interval(secs => $1)
    order by updated_at asc
    for update skip locked
    limit $2
),
claimed as (
    update generation_jobs j
    set updated_at = now()
    from stale
    where j.job_id = stale.job_id
    returning j.job_id, j.kind, j.provider, j.duration_seconds, j.resolution, j.status, j.attempt,
              j.max_attempts, j.progress, j.message, j.primary_url, j.created_at, j.updated_at
)
select * from claimed;
`
