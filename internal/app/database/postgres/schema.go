package postgres

var postgresSchema = `
CREATE SCHEMA IF NOT EXISTS regsync;

CREATE TABLE IF NOT EXISTS regsync.artifacts  (
	digest  	text NOT NULL,
	size    	bigint NOT NULL,
	location	text NOT NULL,
	PRIMARY KEY(digest)
);

CREATE TABLE IF NOT EXISTS regsync.blobs  (
	digest    	text NOT NULL,
	media_type	text NOT NULL,
	PRIMARY KEY(digest)
);

CREATE TABLE IF NOT EXISTS regsync.manifests  (
	digest        	text NOT NULL,
	schema_version	integer NOT NULL,
	media_type    	text NOT NULL,
	config_blob   	text NULL,
	PRIMARY KEY(digest)
);

CREATE TABLE IF NOT EXISTS regsync.manifest_lists  (
	digest        	text NOT NULL,
	schema_version	integer NOT NULL,
	media_type    	text NOT NULL,
	PRIMARY KEY(digest)
);

CREATE TABLE IF NOT EXISTS regsync.manifest_blobs  (
	manifest_digest	text NOT NULL,
	blob_digest    	text NOT NULL,
	PRIMARY KEY(manifest_digest,blob_digest)
);

CREATE TABLE IF NOT EXISTS regsync.list_manifests  (
	list_digest    	text NOT NULL,
	manifest_digest	text NOT NULL,
	PRIMARY KEY(list_digest,manifest_digest)
);

CREATE TABLE IF NOT EXISTS regsync.manifest_tags  (
	name           	text NOT NULL,
	manifest_digest	text NOT NULL,
	PRIMARY KEY(name,manifest_digest)
);

CREATE TABLE IF NOT EXISTS regsync.list_tags  (
	name       	text NOT NULL,
	list_digest	text NOT NULL,
	PRIMARY KEY(name,list_digest)
);

CREATE TABLE IF NOT EXISTS regsync.content_artifacts  (
	content_digest 	text NOT NULL,
	relative_path  	text NOT NULL,
	artifact_digest	text NULL,
	PRIMARY KEY(content_digest,relative_path)
);

CREATE INDEX IF NOT EXISTS blob_digest
	ON regsync.manifest_blobs USING btree (blob_digest);

CREATE INDEX IF NOT EXISTS list_manifest_digest
	ON regsync.list_manifests USING btree (manifest_digest);

ALTER TABLE regsync.manifests
  DROP CONSTRAINT IF EXISTS config_blob_fkey;

ALTER TABLE regsync.manifests
	ADD CONSTRAINT config_blob_fkey
	FOREIGN KEY(config_blob)
	REFERENCES regsync.blobs(digest)
	ON DELETE NO ACTION
	ON UPDATE NO ACTION;

ALTER TABLE regsync.manifest_blobs
  DROP CONSTRAINT IF EXISTS manifests_fkey;

ALTER TABLE regsync.manifest_blobs
	ADD CONSTRAINT manifests_fkey
	FOREIGN KEY(manifest_digest)
	REFERENCES regsync.manifests(digest)
	ON DELETE NO ACTION
	ON UPDATE NO ACTION;

ALTER TABLE regsync.manifest_blobs
  DROP CONSTRAINT IF EXISTS blobs_fkey;

ALTER TABLE regsync.manifest_blobs
	ADD CONSTRAINT blobs_fkey
	FOREIGN KEY(blob_digest)
	REFERENCES regsync.blobs(digest)
	ON DELETE NO ACTION
	ON UPDATE NO ACTION;

ALTER TABLE regsync.list_manifests
  DROP CONSTRAINT IF EXISTS lists_fkey;

ALTER TABLE regsync.list_manifests
	ADD CONSTRAINT lists_fkey
	FOREIGN KEY(list_digest)
	REFERENCES regsync.manifest_lists(digest)
	ON DELETE NO ACTION
	ON UPDATE NO ACTION;

ALTER TABLE regsync.list_manifests
  DROP CONSTRAINT IF EXISTS manifests_fkey;

ALTER TABLE regsync.list_manifests
	ADD CONSTRAINT manifests_fkey
	FOREIGN KEY(manifest_digest)
	REFERENCES regsync.manifests(digest)
	ON DELETE NO ACTION
	ON UPDATE NO ACTION;

ALTER TABLE regsync.manifest_tags
  DROP CONSTRAINT IF EXISTS manifests_fkey;

ALTER TABLE regsync.manifest_tags
	ADD CONSTRAINT manifests_fkey
	FOREIGN KEY(manifest_digest)
	REFERENCES regsync.manifests(digest)
	ON DELETE NO ACTION
	ON UPDATE NO ACTION;

ALTER TABLE regsync.list_tags
  DROP CONSTRAINT IF EXISTS lists_fkey;

ALTER TABLE regsync.list_tags
	ADD CONSTRAINT lists_fkey
	FOREIGN KEY(list_digest)
	REFERENCES regsync.manifest_lists(digest)
	ON DELETE NO ACTION
	ON UPDATE NO ACTION;

ALTER TABLE regsync.content_artifacts
  DROP CONSTRAINT IF EXISTS artifacts_fkey;

ALTER TABLE regsync.content_artifacts
	ADD CONSTRAINT artifacts_fkey
	FOREIGN KEY(artifact_digest)
	REFERENCES regsync.artifacts(digest)
	ON DELETE NO ACTION
	ON UPDATE NO ACTION;
`
