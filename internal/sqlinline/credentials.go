package sqlinline

const QSelectProviderToken = `--sql 333f9846-8d70-43b3-acb5-f355fee4d82d
select token
from provider_credentials
where provider = $1::text
  and revoked_at is null;
`

const QUpsertProviderToken = `--sql 7c574128-cf89-4af2-a0d1-c0ecac98e8fc
insert into provider_credentials (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update set
  token      = excluded.token,
  properties = provider_credentials.properties || excluded.properties,
  revoked_at = null,
  updated_at = now();
`

const QRevokeProviderToken = `--sql 5d2f7e0a-3b61-4c1e-8f4a-9e2b6c7d1a08
update provider_credentials
set revoked_at = now(),
    updated_at = now()
where provider = $1::text
  and revoked_at is null;
`
